package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics surfaced by the dispatch layer (SPEC_FULL.md "DOMAIN STACK").
// None of these are required for correctness; they exist so an operator
// can see batch sizes, live subscription counts, and lossy-notification
// drops without instrumenting application code.
var (
	batchSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jsonrpsee",
		Name:      "batch_size",
		Help:      "Number of requests per inbound JSON-RPC batch.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})
	liveSubscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jsonrpsee",
		Name:      "live_subscriptions",
		Help:      "Number of subscriptions currently registered, across all connections.",
	})
	droppedNotificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jsonrpsee",
		Name:      "dropped_notifications_total",
		Help:      "Notifications dropped because a lossy handler's queue was full.",
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(batchSizeHistogram, liveSubscriptionsGauge, droppedNotificationsCounter)
}
