package domain

import (
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is the carrier-side state of a shipment. Problem
// sub-statuses never force the order into a terminal state by
// themselves; that takes an explicit cancel/return decision.
type ShipmentStatus string

const (
	ShipmentPreparing      ShipmentStatus = "PREPARING"
	ShipmentInTransit      ShipmentStatus = "IN_TRANSIT"
	ShipmentOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentDelivered      ShipmentStatus = "DELIVERED"

	// Problem sub-statuses (delivery exceptions).
	ShipmentAddressIssue ShipmentStatus = "ADDRESS_ISSUE"
	ShipmentDamaged      ShipmentStatus = "DAMAGED"
	ShipmentLost         ShipmentStatus = "LOST"
)

// Problem reports whether the status is a delivery exception.
func (s ShipmentStatus) Problem() bool {
	return s == ShipmentAddressIssue || s == ShipmentDamaged || s == ShipmentLost
}

// Valid reports whether s is a known shipment status.
func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentPreparing, ShipmentInTransit, ShipmentOutForDelivery,
		ShipmentDelivered, ShipmentAddressIssue, ShipmentDamaged, ShipmentLost:
		return true
	}
	return false
}

// Shipment is one-to-one with an order once shipped. Carrier and
// tracking number are always set together.
type Shipment struct {
	ID                    uuid.UUID
	OrderID               uuid.UUID
	TrackingNumber        string
	Carrier               string
	Status                ShipmentStatus
	EstimatedDeliveryDate time.Time
	DeliveredAt           time.Time

	// LastEventAt is the timestamp of the last applied tracking update.
	// Updates older than this are dropped, not applied.
	LastEventAt time.Time

	CreatedAt time.Time
}

// TrackingUpdate is one carrier webhook event. Ingestion is append-only
// and ordered by carrier timestamp.
type TrackingUpdate struct {
	TrackingNumber string
	Status         ShipmentStatus
	Description    string
	Location       string
	Timestamp      time.Time
}

// TrackingEvent is a persisted, applied tracking update.
type TrackingEvent struct {
	ID          uuid.UUID
	ShipmentID  uuid.UUID
	Status      ShipmentStatus
	Description string
	Location    string
	OccurredAt  time.Time
	RecordedAt  time.Time
}
