// Package catalog defines the read path to the product catalog service.
// The checkout core never mutates catalog data; stock counters live in
// the inventory ledger's store.
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Provider resolves product facts needed for pricing and reservation.
type Provider interface {
	// GetProduct returns the catalog view of a product.
	GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
}

// Product is the catalog view consumed by the checkout core.
type Product struct {
	ID            uuid.UUID
	Name          string
	SKU           string
	PriceCents    int64
	Currency      string
	StockQuantity int32
	WeightGrams   int32
	TaxCategory   string // "food", "general_merchandise", ...
	Active        bool
}
