package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	// Vectors only show up once a label set has been observed.
	ExecutionsTotal.WithLabelValues("ok")
	ExecutionDuration.WithLabelValues("ok")
	LifecycleFailuresTotal.WithLabelValues("create")
	WatchdogTotal.WithLabelValues("killed")
	OutputBytesTotal.WithLabelValues("stdout")

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"runbox_executions_total",
		"runbox_execution_duration_seconds",
		"runbox_lifecycle_failures_total",
		"runbox_watchdog_total",
		"runbox_output_bytes_total",
		"runbox_sandboxes_active",
	} {
		assert.True(t, names[want], "metric %s not registered", want)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(WatchdogTotal.WithLabelValues("race"))
	WatchdogTotal.WithLabelValues("race").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WatchdogTotal.WithLabelValues("race")))

	ActiveSandboxes.Inc()
	ActiveSandboxes.Dec()
	assert.GreaterOrEqual(t, testutil.ToFloat64(ActiveSandboxes), 0.0)
}
