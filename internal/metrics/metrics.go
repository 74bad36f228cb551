// Package metrics exposes the Prometheus counters and gauges the engine
// updates as it polls, classifies, and forwards mail.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percebe_messages_fetched_total",
		Help: "Total unseen messages fetched from IMAP accounts",
	}, []string{"account"})

	MessagesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percebe_messages_forwarded_total",
		Help: "Total messages successfully forwarded to at least one recipient",
	}, []string{"account", "rule"})

	MessagesLooped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percebe_messages_loop_detected_total",
		Help: "Total inbound messages dropped as already-forwarded loops",
	}, []string{"account"})

	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percebe_delivery_attempts_total",
		Help: "Total SMTP delivery attempts by outcome",
	}, []string{"outcome"})

	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "percebe_retry_queue_depth",
		Help: "Current number of items waiting in the retry queue",
	})

	RetryItemsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percebe_retry_items_dropped_total",
		Help: "Total retry items dropped after exhausting their attempt budget",
	})

	PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "percebe_poll_cycle_duration_seconds",
		Help:    "Time taken to complete one retry-drain-plus-all-accounts cycle",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	ControlRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percebe_control_rpc_requests_total",
		Help: "Total control-plane RPC requests by command and status",
	}, []string{"command", "status"})
)

// RecordDelivery records the outcome of one SMTP send attempt: "ok",
// "transient", or "permanent".
func RecordDelivery(outcome string) {
	DeliveryAttempts.WithLabelValues(outcome).Inc()
}
