package provision

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stratumbio/teskit/internal/store"
)

var provisionRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "teskit_provision_requests_total",
		Help: "Total number of provisioning requests by final status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(provisionRequestsTotal)

	provisionRequestsTotal.WithLabelValues(store.ProvisionSucceeded)
	provisionRequestsTotal.WithLabelValues(store.ProvisionFailed)
}
