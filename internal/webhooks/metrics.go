package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	whDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook deliveries by dialect and outcome.",
	}, []string{"dialect", "outcome"}) // "success", "failure"

	whRedirectOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "webhook",
		Name:      "redirect_overflow_total",
		Help:      "Total deliveries abandoned for exceeding the redirect cap.",
	})
)

func init() {
	prometheus.MustRegister(
		whDeliveries,
		whRedirectOverflow,
	)
}
