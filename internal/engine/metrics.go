package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for submission outcome.
const (
	outcomeSubmitted = "submitted"
	outcomeFailed    = "failed"
)

var (
	tasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teskit_tasks_submitted_total",
			Help: "Total number of task submissions by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teskit_reconcile_sweep_seconds",
			Help:    "Duration of one reconciliation sweep, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	reconcilePollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teskit_reconcile_poll_failures_total",
			Help: "Total number of per-task poll failures during reconciliation.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmittedTotal)
	prometheus.MustRegister(reconcileDuration)
	prometheus.MustRegister(reconcilePollFailures)

	tasksSubmittedTotal.WithLabelValues(outcomeSubmitted)
	tasksSubmittedTotal.WithLabelValues(outcomeFailed)
}
