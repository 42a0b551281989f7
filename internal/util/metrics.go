package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Total number of payment intents created",
	})

	IntentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_failed_total",
		Help: "Total number of failed payment intent creations",
	}, []string{"reason"})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of processor webhooks received",
	}, []string{"type"})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Total number of replayed webhook deliveries dropped",
	})

	WebhooksInvalidSignatureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_invalid_signature_total",
		Help: "Total number of webhooks rejected for bad signatures",
	})

	WebhooksStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_stale_total",
		Help: "Total number of webhook events ignored due to terminal payment state",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of successful order status transitions",
	}, []string{"to"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected transition requests",
	}, []string{"reason"})

	TransitionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transition_conflicts_total",
		Help: "Total number of optimistic-concurrency conflicts on order writes",
	})

	NotificationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of notification rows persisted",
	})

	PushDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_delivered_total",
		Help: "Total number of push notifications delivered",
	})

	PushFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_failed_total",
		Help: "Total number of failed push deliveries",
	}, []string{"permanent"})

	ProcessorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "processor_request_latency_seconds",
		Help:    "Latency of payment processor API calls",
		Buckets: prometheus.DefBuckets,
	})

	WebhookApplyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_apply_latency_seconds",
		Help:    "Latency of webhook effect application",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
