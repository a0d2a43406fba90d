package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DefaultMetricsPort is reported when the exporter bound :0 and the address cannot be read back.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem is the global telemetry system; nil until InitMetrics succeeds.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free port) and
// installs the telemetry system. Gateway and error counters register on first use.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	if port < 0 {
		port = 0
	}
	metricsPort = port

	metricNamespace := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		metricNamespace = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(metricNamespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}
	PrometheusExporter = exporter

	if actual, err := resolvePort(exporter.GetAddr()); err == nil {
		metricsPort = actual
	} else if port == 0 {
		metricsPort = DefaultMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}
	TelemetrySystem = sys

	return nil
}

// GetMetricsPort returns the port the Prometheus exporter is listening on
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
