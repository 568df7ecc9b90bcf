package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method", "guest"})

	OrdersIdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_idempotent_replays_total",
		Help: "Create requests answered from an earlier order with the same idempotency key",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of create requests rejected",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancellations applied",
	}, []string{"type", "policy"})

	CancellationsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancellations_denied_total",
		Help: "Total number of cancellation requests denied",
	}, []string{"reason"})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_refund_amount_minor_total",
		Help: "Sum of refunds issued on cancellation, in minor currency units",
	})

	TrackingLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_tracking_lookups_total",
		Help: "Total number of tracking lookups",
	}, []string{"result"})

	ExternalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_external_transitions_total",
		Help: "Payment and carrier events applied or skipped",
	}, []string{"event_type", "result"})

	PasswordResetRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_password_reset_requests_total",
		Help: "Total number of password recovery requests",
	}, []string{"result"})

	PaymentInitializationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_initializations_total",
		Help: "Total number of payment gateway initializations",
	}, []string{"method", "result"})

	PaymentInitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_init_latency_seconds",
		Help:    "Latency of payment gateway initialization",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_request_duration_seconds",
		Help:    "Latency of commerce backend calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	BackendBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backend_circuit_breaker_state",
		Help: "Circuit breaker state of the commerce backend client (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of lifecycle events published",
	}, []string{"event_type", "result"})

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
