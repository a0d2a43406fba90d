package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// endpointPrefixes map raw paths to route patterns when chi has not matched a route.
var endpointPrefixes = []struct {
	prefix  string
	pattern string
}{
	{"/v1/quote/", "/v1/quote/{vendor}/{identifier}"},
	{"/v1/series/", "/v1/series/{vendor}/{identifier}"},
	{"/v1/gate/", "/v1/gate/{vendor}"},
	{"/health", "/health/*"},
}

// EndpointPattern keeps metric labels low-cardinality: identifiers never become labels.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch path {
	case "/", "/version", "/metrics", "/v1/vendors", "/v1/document":
		return path
	}
	for _, entry := range endpointPrefixes {
		if strings.HasPrefix(path, entry.prefix) {
			return entry.pattern
		}
	}
	return "/unknown"
}

// RequestMetrics records HTTP counters, durations and sizes, then logs the request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry := observability.TelemetrySystem
		if telemetry == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		status := strconv.Itoa(recorder.statusCode)

		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		_ = telemetry.Counter("http_requests_total", 1, labels)
		_ = telemetry.Histogram("http_request_duration_ms", duration, labels)
		_ = telemetry.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = telemetry.Gauge("http_response_size_bytes", float64(recorder.bytesWritten), sizeLabels)

		if recorder.statusCode >= 400 {
			errorType := "client_error"
			if recorder.statusCode >= 500 {
				errorType = "server_error"
			}
			_ = telemetry.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", recorder.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", recorder.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
