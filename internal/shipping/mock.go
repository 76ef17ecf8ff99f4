package shipping

import (
	"context"
	"time"
)

// MockProvider is a test implementation of Provider.
type MockProvider struct {
	GetRatesFunc      func(ctx context.Context, params RateParams) ([]Rate, error)
	TrackShipmentFunc func(ctx context.Context, trackingNumber string) (*TrackingInfo, error)
}

// NewMockProvider creates a new mock shipping provider for testing.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// GetRates delegates to the configured function or returns a default rate.
func (m *MockProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	if m.GetRatesFunc != nil {
		return m.GetRatesFunc(ctx, params)
	}
	return []Rate{
		{
			RateID:                "mock-standard",
			Carrier:               "Mock Carrier",
			ServiceName:           "Standard",
			ServiceCode:           "STD",
			CostCents:             500,
			EstimatedDaysMin:      3,
			EstimatedDaysMax:      5,
			EstimatedDeliveryDate: time.Now().AddDate(0, 0, 5),
		},
	}, nil
}

// TrackShipment delegates to the configured function or returns an in-transit status.
func (m *MockProvider) TrackShipment(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	if m.TrackShipmentFunc != nil {
		return m.TrackShipmentFunc(ctx, trackingNumber)
	}
	return &TrackingInfo{
		TrackingNumber: trackingNumber,
		Carrier:        "Mock Carrier",
		Status:         "in_transit",
	}, nil
}
