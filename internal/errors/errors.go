// Package errors turns gateway failures and handler errors into gofulmen error
// envelopes and writes them as JSON, with logging and error metrics.
package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/server/middleware"
)

// Envelope codes used by the gateway.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeDataProcessing     = "DATA_PROCESSING_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeValidationFailed:   http.StatusBadRequest,
	"INVALID_INPUT":        http.StatusBadRequest,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeExternalService:    http.StatusBadGateway,
	CodeDataProcessing:     http.StatusBadGateway,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewValidationError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeValidationFailed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

// WrapValidationError wraps err with the correlation ID found on ctx.
func WrapValidationError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeValidationFailed, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := correlationID(ctx)
	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(id).
		WithTraceID(id)
	return withWrappedError(envelope, err)
}

// correlationID returns the request ID on ctx, or a fresh UUID. No tracer is
// wired, so the same value serves as trace ID.
func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}
	if updated, updateErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); updateErr == nil {
		return updated
	}
	return envelope
}

// EnsureEnvelope returns err itself when it already is an envelope and an
// INTERNAL_ERROR envelope wrapping it otherwise.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}
	if err == nil {
		envelope, _ := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error").WithSeverity(errors.SeverityCritical)
		return envelope
	}
	envelope, _ := withWrappedError(errors.NewErrorEnvelope(CodeInternal, "unexpected error"), err).WithSeverity(errors.SeverityHigh)
	return envelope
}

// EnsureCorrelationID fills in a missing correlation ID from the request ID on ctx.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}
	var id string
	if ctx != nil {
		id = middleware.GetRequestID(ctx)
	}
	if id == "" {
		id = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(id)
}

// HTTPStatusFromEnvelope resolves the HTTP status for an envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status for an envelope code. Unknown codes are 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ResponseDetails merges envelope details with its context; details win on key clashes.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil || len(envelope.Details)+len(envelope.Context) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	for key, value := range envelope.Context {
		details[key] = value
	}
	for key, value := range envelope.Details {
		details[key] = value
	}
	return details
}

// HTTPErrorDetail is the body callers receive under "error".
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON error body.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError writes err as an envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs and counts envelope, then writes it with its HTTP
// status. Rate-limit envelopes also set the Retry-After header.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	status := HTTPStatusFromEnvelope(envelope)

	logHTTPError(envelope, status)
	emitErrorMetrics(r, envelope, status)

	if seconds, ok := retryAfterSeconds(envelope); ok {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   ResponseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

func logHTTPError(envelope *errors.ErrorEnvelope, status int) {
	logger := observability.ServerLogger
	if logger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("request_id", envelope.CorrelationID),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, status int) {
	if envelope == nil {
		return
	}
	metrics.RecordError(envelope.Code, status)
	if r != nil {
		metrics.RecordErrorByEndpoint(middleware.EndpointPattern(r), envelope.Code)
	}
}
