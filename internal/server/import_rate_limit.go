package server

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/finledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/finledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const rateLimitReasonUploadRate = "upload-rate"

// ImportUploadRateLimit spends one upload token per client IP. Redis failures let
// the request through; the import lock still serializes the pipeline.
func (s *Server) ImportUploadRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.limiter.AllowUpload(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("import upload rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			denyImportUpload(c, endpoint, res.RetryAfter, s.obsMetrics)
			return
		}

		c.Next()
	}
}

func denyImportUpload(c *gin.Context, endpoint string, retryAfter time.Duration, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("import upload rate limit exceeded",
		zap.String("reason", rateLimitReasonUploadRate),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, rateLimitReasonUploadRate, metrics)

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonUploadRate)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
