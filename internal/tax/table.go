package tax

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// TableProvider resolves rates from a static jurisdiction table with
// per-category overrides. Deterministic for a given configuration, which
// keeps the pricing calculator idempotent.
type TableProvider struct {
	rates       map[string]decimal.Decimal // jurisdiction -> rate
	categories  map[string]decimal.Decimal // jurisdiction + "/" + category -> rate
	defaultRate decimal.Decimal
	hasDefault  bool
}

// TableEntry configures one jurisdiction rate. Category is optional; an
// entry with a category overrides the jurisdiction rate for that category
// (e.g. food taxed lower than general merchandise).
type TableEntry struct {
	Jurisdiction string
	TaxCategory  string
	Rate         decimal.Decimal
}

// NewTableProvider builds a provider from entries. A negative rate is a
// configuration error.
func NewTableProvider(entries []TableEntry) (*TableProvider, error) {
	p := &TableProvider{
		rates:      make(map[string]decimal.Decimal),
		categories: make(map[string]decimal.Decimal),
	}

	for _, e := range entries {
		if e.Rate.IsNegative() {
			return nil, ErrNegativeRate
		}
		j := strings.ToUpper(e.Jurisdiction)
		if e.TaxCategory == "" {
			p.rates[j] = e.Rate
		} else {
			p.categories[j+"/"+strings.ToLower(e.TaxCategory)] = e.Rate
		}
	}

	return p, nil
}

// WithDefault sets a fallback rate for jurisdictions missing from the table.
func (p *TableProvider) WithDefault(rate decimal.Decimal) *TableProvider {
	p.defaultRate = rate
	p.hasDefault = true
	return p
}

// Rate returns the configured rate, preferring a category override.
func (p *TableProvider) Rate(ctx context.Context, jurisdiction, taxCategory string) (decimal.Decimal, error) {
	j := strings.ToUpper(jurisdiction)

	if taxCategory != "" {
		if r, ok := p.categories[j+"/"+strings.ToLower(taxCategory)]; ok {
			return r, nil
		}
	}
	if r, ok := p.rates[j]; ok {
		return r, nil
	}
	if p.hasDefault {
		return p.defaultRate, nil
	}

	return decimal.Zero, ErrUnknownJurisdiction
}
