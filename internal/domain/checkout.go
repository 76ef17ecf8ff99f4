package domain

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutState is the state of one checkout attempt - not of the order,
// which does not exist until the attempt completes.
type CheckoutState string

const (
	CheckoutStarted        CheckoutState = "STARTED"
	CheckoutValidated      CheckoutState = "VALIDATED"
	CheckoutReserved       CheckoutState = "RESERVED"
	CheckoutPaymentPending CheckoutState = "PAYMENT_PENDING"
	CheckoutCompleted      CheckoutState = "COMPLETED"
	CheckoutFailed         CheckoutState = "FAILED"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutStarted:        {CheckoutValidated, CheckoutFailed},
	CheckoutValidated:      {CheckoutReserved, CheckoutFailed},
	CheckoutReserved:       {CheckoutPaymentPending, CheckoutFailed},
	CheckoutPaymentPending: {CheckoutCompleted, CheckoutFailed},
	CheckoutCompleted:      {},
	CheckoutFailed:         {},
}

// CanTransition reports whether the state permits a transition to target.
func (s CheckoutState) CanTransition(target CheckoutState) bool {
	for _, next := range checkoutTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// CheckoutSession tracks one checkout attempt through the protocol.
// Abandoned sessions are cleaned up when their reservation expires.
type CheckoutSession struct {
	ID               uuid.UUID
	CartID           uuid.UUID
	CustomerID       uuid.UUID
	State            CheckoutState
	ReservationToken string
	PaymentID        uuid.UUID
	OrderID          uuid.UUID
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Destination identifies the shipping target for tax and carrier lookups.
type Destination struct {
	AddressID  uuid.UUID
	City       string
	State      string
	PostalCode string
	Country    string
}

// Jurisdiction is the tax key for a destination. Country-level for
// international, country+state domestically.
func (d Destination) Jurisdiction() string {
	if d.State == "" {
		return d.Country
	}
	return d.Country + "-" + d.State
}
