// Package metrics emits mailsched counters and gauges through the global
// telemetry system. Every helper is a no-op until observability.InitMetrics
// has run, so library code can record unconditionally.
package metrics

import (
	"time"

	"github.com/mailsched/mailsched/internal/observability"
)

// Service metrics. The exporter adds the namespace prefix.
const (
	OperationsTotal     = "operations_total"
	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"
	ServerStartTime     = "server_start_time_seconds"
)

func inc(name string, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, labels)
	}
}

func observe(name string, d time.Duration, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, labels)
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordOperation counts a scheduler method call, served or direct.
func RecordOperation(operation string, success bool) {
	inc(OperationsTotal, map[string]string{"operation": operation, "status": outcome(success)})
}

// RecordHealthCheck counts one health checker run and its latency.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	inc(HealthCheckTotal, map[string]string{"check": checkName, "status": status})
	observe(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(t time.Time) {
	gauge(ServerStartTime, float64(t.Unix()), nil)
}
