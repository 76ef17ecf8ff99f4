package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of an inventory hold.
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "HELD"
	ReservationConsumed ReservationStatus = "CONSUMED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

// Active reports whether the reservation still holds stock.
func (s ReservationStatus) Active() bool {
	return s == ReservationHeld
}

// Reservation is a short-lived, all-or-nothing hold on stock, keyed by an
// opaque token. It is created at checkout preparation, consumed exactly
// once when the order materializes, and otherwise released explicitly or
// expired by the background sweep.
type Reservation struct {
	Token           string
	CartID          uuid.UUID
	CustomerID      uuid.UUID
	Lines           []ReservationLine
	Status          ReservationStatus
	QuoteTotalCents int64
	Currency        string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ReservationLine is one product hold within a reservation.
type ReservationLine struct {
	ProductID uuid.UUID
	Quantity  int32
}

// Expired reports whether the reservation's TTL has elapsed at now.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
