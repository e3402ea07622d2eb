package batch

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for submission outcome.
const (
	outcomeSubmitted = "submitted"
	outcomeFailed    = "failed"
)

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teskit_batch_jobs_submitted_total",
			Help: "Total number of Batch job submissions by outcome.",
		},
		[]string{"outcome"},
	)

	jobSubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teskit_batch_job_submit_seconds",
			Help:    "Duration of Batch job submission including staging setup, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teskit_batch_polls_total",
			Help: "Total number of Batch job polls by result state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobSubmitDuration)
	prometheus.MustRegister(pollsTotal)

	// Pre-initialize outcome labels so they appear in /metrics with value 0
	// from startup, rather than only after first observation.
	jobsSubmittedTotal.WithLabelValues(outcomeSubmitted)
	jobsSubmittedTotal.WithLabelValues(outcomeFailed)
}
