package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// MockProvider is a test implementation of RateProvider.
type MockProvider struct {
	// FixedRate is returned for every lookup when RateFunc is nil.
	FixedRate decimal.Decimal

	// RateFunc overrides the default behavior when set.
	RateFunc func(ctx context.Context, jurisdiction, taxCategory string) (decimal.Decimal, error)
}

// Rate returns the configured rate.
func (m *MockProvider) Rate(ctx context.Context, jurisdiction, taxCategory string) (decimal.Decimal, error) {
	if m.RateFunc != nil {
		return m.RateFunc(ctx, jurisdiction, taxCategory)
	}
	return m.FixedRate, nil
}
