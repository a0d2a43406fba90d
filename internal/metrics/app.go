package metrics

import (
	"time"

	"github.com/marketgate/marketgate/internal/observability"
)

// Process metric names
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

// RecordHealthCheck counts one checker run of a health probe and its latency.
func RecordHealthCheck(check, status string, duration time.Duration) {
	counter(HealthCheckTotal, map[string]string{"check": check, "status": status})
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{"check": check})
	}
}

// SetServerStartTime publishes the serve start time as Unix seconds.
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
