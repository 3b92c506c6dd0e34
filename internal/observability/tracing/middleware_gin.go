package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/finledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// importOperations names the spans of routes that run the import pipeline.
var importOperations = map[string]string{
	"POST /api/imports":            "import.upload",
	"POST /api/imports/url":        "import.url",
	"POST /api/imports/:id/replay": "import.replay",
	"POST /api/imports/daily/run":  "import.daily_run",
}

// GinMiddleware instruments inbound HTTP requests. Import routes get an operation
// span name and carry the import run id once the handler has one.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("finledger/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		requestID := obscontext.RequestIDFromContext(ctx)
		if requestID != "" {
			member, err := baggage.NewMember("request_id", requestID)
			if err == nil {
				bag, bagErr := baggage.New(member)
				if bagErr == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName(SpanName(c.Request.Method, route))
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		if runID := strings.TrimSpace(c.GetString(obscontext.ImportRunIDKey)); runID != "" {
			attrs = append(attrs, attribute.String("import.run_id", runID))
		}
		if _, ok := importOperations[strings.ToUpper(c.Request.Method)+" "+route]; ok && c.Request.ContentLength > 0 {
			attrs = append(attrs, attribute.Int64("import.body_bytes", c.Request.ContentLength))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

// SpanName returns the operation name for import routes and "HTTP <METHOD> <route>"
// for everything else.
func SpanName(method, route string) string {
	method = strings.ToUpper(method)
	if op, ok := importOperations[method+" "+route]; ok {
		return op
	}
	return "HTTP " + method + " " + route
}
