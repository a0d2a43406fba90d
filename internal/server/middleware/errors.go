package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/observability"
)

// Recovery turns a handler panic into a critical INTERNAL_ERROR envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			stack := string(debug.Stack())

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"stack_trace": stack,
			})
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Handler panic recovered",
					zap.String("requestID", requestID),
					zap.String("path", r.URL.Path),
					zap.Any("panic", recovered))
			}

			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the JSON error body written by middleware.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse writes the envelope without going through internal/errors,
// which imports this package.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	details := envelope.Details
	if len(details) == 0 {
		details = envelope.Context
	}
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   details,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
