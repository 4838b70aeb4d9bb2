package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of inbound gateway webhooks",
	}, []string{"gateway"})

	WebhooksIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_ignored_total",
		Help: "Total number of webhooks with no recognized payload shape",
	}, []string{"gateway"})

	TransitionsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_applied_total",
		Help: "Total number of order status transitions applied",
	}, []string{"to"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of transitions rejected by the state machine",
	}, []string{"from", "to"})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Latency of outbound gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})

	GatewayCallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_call_errors_total",
		Help: "Total number of failed outbound gateway calls",
	}, []string{"gateway", "operation"})

	NotificationAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_attempts_total",
		Help: "Total number of downstream notification delivery attempts",
	})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Total number of notifications that exhausted all retries",
	})

	SyncRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Total number of pending-order sync batches",
	})

	SyncOrdersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_orders_failed_total",
		Help: "Total number of orders whose poll failed within a sync batch",
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
