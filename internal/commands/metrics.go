package commands

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds the command-layer Prometheus collectors, generalizing
// the teacher's internal/app/metrics.Registry (one package-level
// registry, MustRegister'd once in init) to this module's command
// surface instead of HTTP routes.
var Registry = prometheus.NewRegistry()

var (
	commandExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantcore",
			Subsystem: "commands",
			Name:      "executions_total",
			Help:      "Total number of command handler invocations.",
		},
		[]string{"operation", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grantcore",
			Subsystem: "commands",
			Name:      "execution_duration_seconds",
			Help:      "Duration of command handler invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantcore",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total number of background sweep ticks, by outcome.",
		},
		[]string{"job", "outcome"},
	)

	sweepItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantcore",
			Subsystem: "sweep",
			Name:      "items_processed_total",
			Help:      "Total number of rows a sweep tick acted on.",
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		commandExecutions,
		commandDuration,
		sweepRuns,
		sweepItemsProcessed,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// recordCommand records one command attempt's duration and outcome,
// mirroring RecordAutomationExecution/RecordFunctionExecution's
// jobID/status label shape.
func recordCommand(operationKind string, start time.Time, err error) {
	if operationKind == "" {
		operationKind = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	commandExecutions.WithLabelValues(operationKind, outcome).Inc()
	commandDuration.WithLabelValues(operationKind).Observe(time.Since(start).Seconds())
}

// RecordSweepRun records one sweep tick's outcome and the number of
// rows it acted on. Exported for internal/sweep, which lives in a
// separate package from the counters it increments.
func RecordSweepRun(job string, itemsProcessed int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	sweepRuns.WithLabelValues(job, outcome).Inc()
	if itemsProcessed > 0 {
		sweepItemsProcessed.WithLabelValues(job).Add(float64(itemsProcessed))
	}
}
