package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	// CorrelationIDHeader is accepted from callers that propagate their own id.
	CorrelationIDHeader = "X-Correlation-ID"

	maxRequestIDLength = 128
)

type requestIDContextKey string

const RequestIDContextKey requestIDContextKey = "request_id"

// RequestID attaches a request id to the context and the response. A caller
// supplied id is reused; otherwise a UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = inboundID(r)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundID(r *http.Request) string {
	for _, header := range []string{RequestIDHeader, CorrelationIDHeader} {
		id := strings.TrimSpace(r.Header.Get(header))
		if id != "" && len(id) <= maxRequestIDLength {
			return id
		}
	}
	return ""
}

// GetRequestID returns the request id from our context key, then chi's.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return requestID
	}
	return middleware.GetReqID(ctx)
}
