package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/verdandi/shop/internal/repository"
)

// Store is the product read surface the provider needs.
// *repository.Store satisfies it.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*repository.Product, error)
}

// PGProvider serves the catalog read path from the products table.
type PGProvider struct {
	store Store
}

// NewPGProvider creates a catalog provider backed by the store.
func NewPGProvider(store Store) *PGProvider {
	return &PGProvider{store: store}
}

func (p *PGProvider) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	row, err := p.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Product{
		ID:            row.ID,
		Name:          row.Name,
		SKU:           row.SKU,
		PriceCents:    row.PriceCents,
		Currency:      row.Currency,
		StockQuantity: row.StockQuantity,
		WeightGrams:   row.WeightGrams,
		TaxCategory:   row.TaxCategory,
		Active:        row.Active,
	}, nil
}

var _ Provider = (*PGProvider)(nil)
