package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order. Transitions are only
// applied through the transition table below; anything else is rejected.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderProcessing     OrderStatus = "PROCESSING"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderFailed         OrderStatus = "FAILED"
	OrderReturned       OrderStatus = "RETURNED"
	OrderRefunded       OrderStatus = "REFUNDED"
)

// orderTransitions enumerates every allowed order status transition.
// Guards (tracking number, cancellation reason) are enforced by the
// order service on top of this table. SHIPPED permits DELIVERED
// directly: carriers skip the out-for-delivery scan often enough that
// the delivered event can be the first one seen for a shipment.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:        {OrderConfirmed, OrderCancelled, OrderFailed},
	OrderConfirmed:      {OrderProcessing, OrderCancelled},
	OrderProcessing:     {OrderShipped, OrderCancelled},
	OrderShipped:        {OrderOutForDelivery, OrderDelivered},
	OrderOutForDelivery: {OrderDelivered},
	OrderDelivered:      {OrderReturned},
	OrderCancelled:      {OrderRefunded},
	OrderReturned:       {OrderRefunded},
	OrderFailed:         {},
	OrderRefunded:       {},
}

// CanTransition reports whether the status permits a transition to target.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// NextStatuses returns the statuses reachable from s.
func (s OrderStatus) NextStatuses() []OrderStatus {
	return orderTransitions[s]
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Cancellable reports whether an order in this status may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderConfirmed || s == OrderProcessing
}

// Order is the system of record for a purchase. Items, prices and
// addresses are frozen at materialization; only status and status
// metadata change afterwards, exclusively through transitions.
type Order struct {
	ID          uuid.UUID
	OrderNumber string // external-safe identifier, ORD-YYYYMMDD-XXXX
	CustomerID  uuid.UUID

	Lines []OrderLine

	SubtotalCents int64
	TaxCents      int64
	ShippingCents int64
	DiscountCents int64
	TotalCents    int64
	Currency      string

	Status     OrderStatus
	PaymentID  uuid.UUID
	ShipmentID uuid.UUID

	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID

	CancellationReason string
	ReturnReason       string

	// Version implements single-writer-per-order optimistic concurrency.
	Version int32

	CreatedAt   time.Time
	ConfirmedAt time.Time
	ShippedAt   time.Time
	DeliveredAt time.Time
	CancelledAt time.Time
}

// OrderLine is a frozen snapshot of a cart line at order-creation time.
// UnitPriceCents is never recalculated from the live catalog.
type OrderLine struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ProductID       uuid.UUID
	ProductName     string
	SKU             string
	Quantity        int32
	UnitPriceCents  int64
	TotalPriceCents int64
	TaxCategory     string
	WeightGramsEach int32
}

// OrderTransition is the audit record of one applied status change.
// The idempotency key makes duplicate webhooks (e.g. a carrier retrying
// "mark shipped") a no-op success rather than an error.
type OrderTransition struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	FromStatus     OrderStatus
	ToStatus       OrderStatus
	Reason         string
	IdempotencyKey string
	AppliedAt      time.Time
}
