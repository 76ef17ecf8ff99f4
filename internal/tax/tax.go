// Package tax provides pluggable tax-rate lookup keyed by destination
// jurisdiction and product tax category.
package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider resolves the tax rate for a jurisdiction/category pair.
// Implementations: TableProvider (static table), MockProvider.
type RateProvider interface {
	// Rate returns the fractional tax rate (e.g. 0.0825 for 8.25%).
	Rate(ctx context.Context, jurisdiction, taxCategory string) (decimal.Decimal, error)
}

// Breakdown represents tax for a single jurisdiction level.
type Breakdown struct {
	Jurisdiction string // e.g. "US-WA"
	Name         string // e.g. "Washington State"
	Rate         decimal.Decimal
	AmountCents  int64
}
