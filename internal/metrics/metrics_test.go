package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/observability"
)

func withCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestHelpersAreNoopsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordOperation("createMessage", true)
		RecordHealthCheck("store", false, time.Millisecond)
		SetServerStartTime(time.Now())
		RecordError("NOT_FOUND", 404)
		RecordPanic()
		RecordInterception("rpc", "confirmed")
		RecordRelayCall("EmailSubmission/set", false)
	})
}

func TestSeriesAreEmitted(t *testing.T) {
	collector := withCollector(t)

	RecordOperation("createMessage", false)
	RecordHealthCheck("store", true, 3*time.Millisecond)
	SetServerStartTime(time.Now())
	RecordError("CONFLICT", 409)
	RecordErrorByEndpoint("/api/method/{method}", "CONFLICT")
	RecordPanic()
	RecordInterception("form", "confirmed")
	RecordAbandonedToken()
	RecordRateLimited("direct")
	RecordRelayCall("Email/set", true)
	RecordStatusUpdate("Sent")

	for _, name := range []string{
		OperationsTotal, HealthCheckTotal, HealthCheckDuration, ServerStartTime,
		ErrorsTotalName, ErrorsByEndpointName, PanicsTotalName,
		InterceptionsTotal, AbandonedTokensTotal, RateLimitedTotal, RelayCallsTotal, StatusUpdatesTotal,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(true))
	assert.Equal(t, "failure", outcome(false))
}
