// Package notification publishes lifecycle events for downstream
// consumers (email, analytics, fulfillment). Publishing is fire and
// forget: a failed publish is logged, never surfaced to the customer.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event subjects.
const (
	SubjectOrderConfirmed   = "orders.confirmed"
	SubjectOrderCancelled   = "orders.cancelled"
	SubjectOrderShipped     = "orders.shipped"
	SubjectOrderDelivered   = "orders.delivered"
	SubjectOrderRefunded    = "orders.refunded"
	SubjectPaymentCaptured  = "payments.captured"
	SubjectPaymentFailed    = "payments.failed"
	SubjectShipmentProblem  = "shipments.problem"
	SubjectCheckoutAbandons = "checkouts.abandoned"
)

// OrderEvent is the payload for order lifecycle subjects.
type OrderEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  uuid.UUID `json:"customer_id"`
	Status      string    `json:"status"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentEvent is the payload for payment subjects.
type PaymentEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ShipmentEvent is the payload for shipment subjects.
type ShipmentEvent struct {
	ShipmentID     uuid.UUID `json:"shipment_id"`
	OrderID        uuid.UUID `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	// Publish sends one event on a subject. Implementations must not
	// block on slow consumers.
	Publish(ctx context.Context, subject string, event any) error

	// Close flushes pending events and releases the connection.
	Close() error
}
