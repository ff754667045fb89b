package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gwWalletOpens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "gateway",
		Name:      "wallet_opens_total",
		Help:      "Total wallet session opens by outcome.",
	}, []string{"outcome"}) // "open", "provision", "conflict"

	gwBackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "gateway",
		Name:      "backend_errors_total",
		Help:      "Total backend call failures by endpoint and kind.",
	}, []string{"endpoint", "kind"}) // "unreachable", "protocol", "no_daemon", "rpc"

	gwTransfersListed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "gateway",
		Name:      "transfers_listed_total",
		Help:      "Total incoming transfer entries returned by the wallet RPC.",
	})

	gwDaemonProbeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xmrcheckout",
		Subsystem: "gateway",
		Name:      "daemon_probe_failures_total",
		Help:      "Total daemon height probes that failed on both endpoints.",
	})
)

func init() {
	prometheus.MustRegister(
		gwWalletOpens,
		gwBackendErrors,
		gwTransfersListed,
		gwDaemonProbeFailures,
	)
}
