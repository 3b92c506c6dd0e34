package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	obscontext "github.com/smallbiznis/finledger/internal/observability/context"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string
	Message string
	Errors  []ValidationError
}

// errorResponse is the failure envelope shared by every endpoint.
type errorResponse struct {
	Success bool                    `json:"success"`
	Error   string                  `json:"error"`
	Type    string                  `json:"type"`
	Errors  []ValidationError       `json:"errors,omitempty"`
	Stats   *csvdomain.ImportReport `json:"stats,omitempty"`
}

var (
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrRateLimited     = errors.New("rate_limited")
	ErrBodyTooLarge    = errors.New("body_too_large")
	ErrUnsupportedBody = errors.New("unsupported_media_type")
)

const contextImportStatsKey = "import_stats"

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		resp := errorResponse{
			Success: false,
			Error:   payload.Message,
			Type:    payload.Type,
			Errors:  payload.Errors,
		}
		if value, ok := c.Get(contextImportStatsKey); ok {
			if stats, ok := value.(*csvdomain.ImportReport); ok && stats != nil {
				resp.Stats = stats
			}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// abortImport attaches the partial report of a failed run to the error envelope.
func abortImport(c *gin.Context, stats *csvdomain.ImportReport, err error) {
	if stats != nil {
		c.Set(contextImportStatsKey, stats)
		if stats.RunID != "" {
			c.Set(obscontext.ImportRunIDKey, stats.RunID)
		}
	}
	AbortWithError(c, err)
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var schemaErr *csvdomain.SchemaError
	if errors.As(err, &schemaErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    csvdomain.ErrUnrecognizedSchema.Error(),
			Message: schemaErr.Error(),
			Errors:  missingColumnErrors(schemaErr.Missing),
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: "invalid_request", Message: "invalid request"},
			},
		}
	case isBadInputError(err):
		code := sentinelCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    code,
			Message: badInputMessage(code),
		}
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "body_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, ErrUnsupportedBody):
		return http.StatusUnsupportedMediaType, errorPayload{
			Type:    "unsupported_media_type",
			Message: "expected JSON, multipart or text/csv body",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, csvdomain.ErrImportInProgress):
		return http.StatusConflict, errorPayload{
			Type:    csvdomain.ErrImportInProgress.Error(),
			Message: "another import is in progress",
		}
	case errors.Is(err, dailydomain.ErrAlreadyRunning):
		return http.StatusConflict, errorPayload{
			Type:    dailydomain.ErrAlreadyRunning.Error(),
			Message: "daily import is already running",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, dailydomain.ErrFetchFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    dailydomain.ErrFetchFailed.Error(),
			Message: err.Error(),
		}
	case errors.Is(err, csvdomain.ErrStoreWriteFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    csvdomain.ErrStoreWriteFailed.Error(),
			Message: "failed to write import results",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger an error class and code.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server_error", code
	}
	return "client_error", code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var badInputErrors = []error{
	csvdomain.ErrEmptyDocument,
	csvdomain.ErrNoValidData,
	csvdomain.ErrUnrecognizedSchema,
	csvdomain.ErrInvalidQuery,
	csvdomain.ErrInvalidID,
	csvdomain.ErrSourceNotStored,
	dailydomain.ErrInvalidURL,
}

func isBadInputError(err error) bool {
	for _, target := range badInputErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sentinelCode(err error) string {
	for _, target := range badInputErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func badInputMessage(code string) string {
	switch code {
	case csvdomain.ErrEmptyDocument.Error():
		return "the uploaded document is empty"
	case csvdomain.ErrNoValidData.Error():
		return "no valid rows were found in the document"
	case csvdomain.ErrInvalidQuery.Error():
		return "invalid query parameters"
	case csvdomain.ErrInvalidID.Error():
		return "invalid import run id"
	case csvdomain.ErrSourceNotStored.Error():
		return "the import run has no stored source to replay"
	case dailydomain.ErrInvalidURL.Error():
		return "source_url must be an absolute http or https URL"
	default:
		return "invalid value"
	}
}

func missingColumnErrors(missing []string) []ValidationError {
	if len(missing) == 0 {
		return nil
	}
	out := make([]ValidationError, 0, len(missing))
	for _, column := range missing {
		column = strings.TrimSpace(column)
		out = append(out, ValidationError{
			Field:   column,
			Code:    "missing_column",
			Message: "required column not found in header",
		})
	}
	return out
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, csvdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
