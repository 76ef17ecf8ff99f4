package shipping

import (
	"context"
	"time"
)

// Provider defines the interface for carrier operations.
// Implementations can integrate with carriers like FedEx, UPS, USPS, etc.
type Provider interface {
	// GetRates returns available shipping options for a shipment.
	GetRates(ctx context.Context, params RateParams) ([]Rate, error)

	// TrackShipment returns tracking information for a shipment.
	TrackShipment(ctx context.Context, trackingNumber string) (*TrackingInfo, error)
}

// RateParams contains parameters for calculating shipping rates.
type RateParams struct {
	OriginAddress      ShippingAddress
	DestinationAddress ShippingAddress
	Packages           []Package
	ServiceTypes       []string // Optional filter for specific service types
}

// ShippingAddress represents a complete shipping address.
type ShippingAddress struct {
	Name       string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// Package represents a physical package to be shipped.
type Package struct {
	WeightGrams int32
	LengthCm    int32
	WidthCm     int32
	HeightCm    int32
}

// Rate represents a shipping rate option.
type Rate struct {
	RateID                string
	Carrier               string
	ServiceName           string
	ServiceCode           string
	CostCents             int64
	EstimatedDaysMin      int
	EstimatedDaysMax      int
	EstimatedDeliveryDate time.Time
	ExpiresAt             *time.Time
}

// TrackingInfo contains shipment tracking information.
type TrackingInfo struct {
	TrackingNumber        string
	Carrier               string
	Status                string
	Events                []TrackingEvent
	EstimatedDeliveryDate time.Time
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Timestamp   time.Time
	Status      string
	Location    string
	Description string
}
