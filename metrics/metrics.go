// Package metrics exposes Prometheus instrumentation for sandbox executions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets covers budgets from sub-second runs up to the default
// one minute cap.
var ExecutionBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ExecutionsTotal counts finished requests by outcome (ok, error, invalid).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_executions_total",
			Help: "Sandbox executions",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records wall-clock time from create to result.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runbox_execution_duration_seconds",
			Help:    "Sandbox execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"outcome"},
	)

	// LifecycleFailuresTotal counts failed lifecycle steps by kind
	// (create, limit, upload, start, logs, inspect, remove).
	LifecycleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_lifecycle_failures_total",
			Help: "Failed sandbox lifecycle steps",
		},
		[]string{"kind"},
	)

	// WatchdogTotal counts timeout enforcer outcomes (killed, race, error, cancelled).
	WatchdogTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_watchdog_total",
			Help: "Timeout enforcer outcomes",
		},
		[]string{"result"},
	)

	// OutputBytesTotal counts collected output bytes per stream.
	OutputBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_output_bytes_total",
			Help: "Collected sandbox output",
		},
		[]string{"stream"},
	)

	// ActiveSandboxes tracks sandboxes between create and removal.
	ActiveSandboxes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runbox_sandboxes_active",
			Help: "Sandboxes currently provisioned",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		LifecycleFailuresTotal,
		WatchdogTotal,
		OutputBytesTotal,
		ActiveSandboxes,
	)
}
