package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentCaptured          PaymentStatus = "CAPTURED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentCancelled},
	PaymentAuthorized:        {PaymentCaptured, PaymentFailed, PaymentCancelled},
	PaymentCaptured:          {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentRefunded:          {},
	PaymentFailed:            {},
	PaymentCancelled:         {},
}

// CanTransition reports whether the status permits a transition to target.
func (s PaymentStatus) CanTransition(target PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Refundable reports whether a refund may be issued against this status.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentCaptured || s == PaymentPartiallyRefunded
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// Payment is one-to-one with an order; refunds are child records.
// A payment in a redirect-based provider flow sits in PENDING until a
// verified callback or poll resolves it - never assumed from the
// redirect alone.
type Payment struct {
	ID      uuid.UUID
	OrderID uuid.UUID

	AmountCents int64
	Currency    string
	Method      string // "paypal", "stripe", "card"

	Provider              string
	ProviderTransactionID string

	// IdempotencyKey is the reservation token of the checkout attempt.
	// Capture replays with the same key return the original result.
	IdempotencyKey string

	Status PaymentStatus

	// NeedsReconciliation flags a payment whose funds were taken but whose
	// order-side record is in doubt. Escalated, never auto-retried.
	NeedsReconciliation bool
	ReconciliationNote  string

	Version   int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefundStatus is the lifecycle state of a refund attempt.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund is a child record of a payment. The sum of completed refund
// amounts never exceeds the captured amount.
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	AmountCents      int64
	Reason           string
	Status           RefundStatus
	ProviderRefundID string
	CreatedAt        time.Time
	CompletedAt      time.Time
}
