package reconciler

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xmrcheckout",
		Subsystem: "reconciler",
		Name:      "candidates",
		Help:      "Number of candidate invoices selected in the last pass.",
	})

	reconcileSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "reconciler",
		Name:      "skips_total",
		Help:      "Total invoices skipped during passes by reason.",
	}, []string{"reason"}) // "owner_missing", "no_keys", "fetch_failed"

	reconcileTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "reconciler",
		Name:      "transitions_total",
		Help:      "Total invoice status transitions by emitted event.",
	}, []string{"event"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "xmrcheckout",
		Subsystem: "reconciler",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation passes in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "reconciler",
		Name:      "errors_total",
		Help:      "Total reconciliation pass errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileCandidates,
		reconcileSkips,
		reconcileTransitions,
		reconcileDuration,
		reconcileErrors,
	)
}
