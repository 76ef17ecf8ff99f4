package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level
// observability of the checkout and order lifecycle.
type BusinessMetrics struct {
	// Checkout funnel
	CheckoutStarted   *prometheus.CounterVec
	CheckoutValidated *prometheus.CounterVec
	CheckoutCompleted *prometheus.CounterVec
	CheckoutFailed    *prometheus.CounterVec

	// Reservations
	ReservationsHeld     prometheus.Counter
	ReservationShortfall prometheus.Counter
	ReservationsExpired  prometheus.Counter
	SweepDuration        prometheus.Histogram

	// Orders
	OrdersCreated    *prometheus.CounterVec
	OrderValue       prometheus.Histogram
	OrderTransitions *prometheus.CounterVec
	OrdersCancelled  *prometheus.CounterVec

	// Payments
	PaymentAttempts      *prometheus.CounterVec
	PaymentSucceeded     *prometheus.CounterVec
	PaymentFailed        *prometheus.CounterVec
	PaymentsReconciling  prometheus.Gauge
	RefundsIssued        *prometheus.CounterVec
	RefundAmount         *prometheus.CounterVec

	// Webhooks
	WebhookReceived *prometheus.CounterVec
	WebhookFailed   *prometheus.CounterVec
	WebhookLatency  *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "shop"
	}

	subsystem := "business"

	m := &BusinessMetrics{
		CheckoutStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Total checkout sessions started",
			},
			[]string{"currency"},
		),
		CheckoutValidated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_validated_total",
				Help:      "Total carts validated during checkout",
			},
			[]string{"outcome"}, // outcome: ok, invalid, shortfall
		),
		CheckoutCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_completed_total",
				Help:      "Total successful checkouts",
			},
			[]string{"currency"},
		),
		CheckoutFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_failed_total",
				Help:      "Total failed checkouts",
			},
			[]string{"reason"}, // reason: declined, expired, unavailable
		),

		ReservationsHeld: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservations_held_total",
				Help:      "Total inventory reservations placed",
			},
		),
		ReservationShortfall: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservation_shortfall_total",
				Help:      "Total reservations rejected for insufficient stock",
			},
		),
		ReservationsExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservations_expired_total",
				Help:      "Total reservations expired by the sweep",
			},
		),
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservation_sweep_duration_seconds",
				Help:      "Duration of reservation sweep runs",
				Buckets:   prometheus.DefBuckets,
			},
		),

		OrdersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Total orders created",
			},
			[]string{"currency"},
		),
		OrderValue: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_cents",
				Help:      "Distribution of order totals in cents",
				Buckets:   prometheus.ExponentialBuckets(500, 2.5, 10),
			},
		),
		OrderTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_transitions_total",
				Help:      "Total order status transitions applied",
			},
			[]string{"from", "to"},
		),
		OrdersCancelled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_cancelled_total",
				Help:      "Total orders cancelled",
			},
			[]string{"stage"}, // stage: before_capture, after_capture
		),

		PaymentAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_attempts_total",
				Help:      "Total payment capture attempts",
			},
			[]string{"provider"},
		),
		PaymentSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total successful captures",
			},
			[]string{"provider"},
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total failed captures",
			},
			[]string{"provider", "failure_reason"},
		),
		PaymentsReconciling: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_reconciling",
				Help:      "Payments currently flagged for manual reconciliation",
			},
		),
		RefundsIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_issued_total",
				Help:      "Total refunds issued",
			},
			[]string{"provider", "kind"}, // kind: full, partial
		),
		RefundAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_amount_cents_total",
				Help:      "Total cents refunded",
			},
			[]string{"provider"},
		),

		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhooks received",
			},
			[]string{"source", "event_type"}, // source: payment, carrier
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhooks that failed processing",
			},
			[]string{"source", "reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
	}

	return m
}
