package metrics

import (
	"strconv"
	"time"

	"github.com/marketgate/marketgate/internal/observability"
)

// Gateway metric names
const (
	GateDecisionsTotal    = "gate_decisions_total"
	VendorRequestsTotal   = "vendor_requests_total"
	VendorRequestDuration = "vendor_request_duration_ms"
	CacheFallbacksTotal   = "cache_fallbacks_total"
	StorageErrorsTotal    = "storage_errors_total"
	PrefetchRunsTotal     = "prefetch_runs_total"
)

// Gateway records fetch orchestration metrics through the global telemetry system.
// The zero value is ready to use; calls are no-ops until telemetry is initialized.
type Gateway struct{}

// GateDecision counts an admission decision.
func (Gateway) GateDecision(vendor string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	counter(GateDecisionsTotal, map[string]string{"vendor": vendor, "decision": decision})
}

// VendorRequest counts a vendor call and its latency. Status 0 means a transport failure.
func (Gateway) VendorRequest(vendor string, status int, duration time.Duration) {
	labels := map[string]string{"vendor": vendor, "status": strconv.Itoa(status)}
	counter(VendorRequestsTotal, labels)
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			VendorRequestDuration,
			duration,
			map[string]string{"vendor": vendor},
		)
	}
}

// CacheFallback counts a storage fallback after a denial.
func (Gateway) CacheFallback(vendor string, hit bool) {
	counter(CacheFallbacksTotal, map[string]string{"vendor": vendor, "hit": strconv.FormatBool(hit)})
}

// StorageError counts a failed storage operation.
func (Gateway) StorageError(op string) {
	counter(StorageErrorsTotal, map[string]string{"op": op})
}

// RecordPrefetchRun counts a cache warmer run.
func RecordPrefetchRun(vendor string, fetched, failed int) {
	counter(PrefetchRunsTotal, map[string]string{
		"vendor":  vendor,
		"fetched": strconv.Itoa(fetched),
		"failed":  strconv.Itoa(failed),
	})
}

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}
