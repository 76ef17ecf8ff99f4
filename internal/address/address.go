// Package address defines the boundary to the customer/address service.
// The checkout core resolves stored addresses by ID to obtain the
// destination used for tax and carrier-rate lookups.
package address

import (
	"context"

	"github.com/google/uuid"
)

// Resolver looks up a customer's stored shipping or billing address.
type Resolver interface {
	// Resolve returns the address with the given ID.
	Resolve(ctx context.Context, addressID uuid.UUID) (*Address, error)
}

// Address represents a physical address for shipping or billing.
type Address struct {
	ID           uuid.UUID
	Type         string // "shipping" or "billing"
	FullName     string
	Company      string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	Country      string
	Phone        string
}
