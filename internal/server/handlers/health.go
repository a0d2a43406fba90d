package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/marketgate/marketgate/internal/metrics"
)

// Check results.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by the store backends and anything else the server depends on.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager runs the registered checks for every probe.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = statusTimeout
			continue
		}
		started := time.Now()
		if err := checkers[name].CheckHealth(ctx); err != nil {
			checks[name] = statusUnhealthy
		} else {
			checks[name] = statusHealthy
		}
		metrics.RecordHealthCheck(name, checks[name], time.Since(started))
	}
	return checks
}

func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusDegraded, statusTimeout:
			degraded = true
		}
	}
	if degraded {
		return statusDegraded
	}
	return statusHealthy
}

// probe runs the checks under timeout and writes either body(status, checks) or an envelope.
func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name, failure string, timeout time.Duration, body func(status string, checks map[string]string) any) {
	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == statusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", failure)
		respondWithError(w, r, enrichHealthEnvelope(envelope, name, status, checks))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body(status, checks))
}

func probeBody(status string, _ map[string]string) any {
	return ProbeResponse{Status: status, Timestamp: time.Now().UTC()}
}

// HealthHandler reports every check with the app version.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "", "aggregate health check failed", 5*time.Second, func(status string, checks map[string]string) any {
		return HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}
	})
}

// LivenessHandler handles liveness probe requests
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "live", "liveness probe failed", 2*time.Second, probeBody)
}

// ReadinessHandler handles readiness probe requests
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", "readiness probe failed", 5*time.Second, probeBody)
}

// StartupHandler handles startup probe requests
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", "startup probe failed", 3*time.Second, probeBody)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status}
	contextData := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
		contextData["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != statusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) *HealthManager {
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobal(probe string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			serve(globalHealthManager, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

// Handlers bound to the global manager.
var (
	HealthHandler    = withGlobal("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobal("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobal("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobal("startup", (*HealthManager).StartupHandler)
)
