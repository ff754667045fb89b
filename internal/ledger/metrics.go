package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "ledger",
		Name:      "sync_inserts_total",
		Help:      "Total transfer records inserted during sync.",
	})

	syncUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "ledger",
		Name:      "sync_updates_total",
		Help:      "Total transfer records updated during sync.",
	})

	syncDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "ledger",
		Name:      "sync_deletes_total",
		Help:      "Total transfer records deleted during sync (reorg or mempool eviction).",
	})
)

func init() {
	prometheus.MustRegister(
		syncInserts,
		syncUpdates,
		syncDeletes,
	)
}
