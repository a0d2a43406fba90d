package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/observability"
)

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

const prometheusContentType = "text/plain; version=0.0.4"

// hopByHopHeaders stay on the exporter hop.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MetricsHandler serves /metrics on the API port by relaying the scrape of the
// local Prometheus exporter, so gate and vendor counters are reachable without
// exposing the exporter port.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope(apperrors.CodeServiceUnavailable, "metrics exporter not initialized"))
		return
	}

	port := observability.GetMetricsPort()
	if port == 0 {
		port = observability.DefaultMetricsPort
	}
	target := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		HandleError(w, r, proxyFailure(apperrors.CodeInternal, "cannot build metrics request", target, err))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		HandleError(w, r, proxyFailure(apperrors.CodeExternalService, "prometheus exporter unavailable", target, err))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			warnMetrics("close exporter response", err)
		}
	}()

	for key, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", prometheusContentType)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		warnMetrics("relay exporter response", err)
	}
}

func proxyFailure(code, message, target string, err error) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	if withContext, ctxErr := envelope.WithContext(map[string]interface{}{
		"metrics_url":    target,
		"original_error": err.Error(),
	}); ctxErr == nil {
		return withContext
	}
	return envelope
}

func warnMetrics(msg string, err error) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn(msg, zap.Error(err))
	}
}
