package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "brokkr",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var AuthAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Total number of authentication attempts by outcome.",
	},
	[]string{"outcome"},
)

var WorkOrdersClaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorder",
		Name:      "claimed_total",
		Help:      "Total number of work orders successfully claimed.",
	},
)

var WorkOrdersRetriedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorder",
		Name:      "retried_total",
		Help:      "Total number of work orders that entered RETRY_PENDING.",
	},
)

var WorkOrdersReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorder",
		Name:      "stale_claims_reclaimed_total",
		Help:      "Total number of work orders reclaimed after a stale claim.",
	},
)

var EventBusEmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "eventbus",
		Name:      "emitted_total",
		Help:      "Total number of events emitted onto the bus, by event type.",
	},
	[]string{"event_type"},
)

var EventBusDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Total number of events dropped because the bus channel was full.",
	},
)

var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total number of webhook delivery attempts by outcome.",
	},
	[]string{"outcome"},
)

var WebhookDeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "brokkr",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Webhook delivery attempt duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"outcome"},
)

var AuditEntriesDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Total number of audit entries dropped because the buffer was full.",
	},
)

// All returns every broker-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		AuthAttemptsTotal,
		WorkOrdersClaimedTotal,
		WorkOrdersRetriedTotal,
		WorkOrdersReclaimedTotal,
		EventBusEmittedTotal,
		EventBusDroppedTotal,
		WebhookDeliveriesTotal,
		WebhookDeliveryDuration,
		AuditEntriesDroppedTotal,
	}
}
