package address

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdandi/shop/internal/domain"
)

// PGResolver resolves stored addresses from the addresses table.
type PGResolver struct {
	pool *pgxpool.Pool
}

// NewPGResolver creates an address resolver backed by postgres.
func NewPGResolver(pool *pgxpool.Pool) *PGResolver {
	return &PGResolver{pool: pool}
}

func (r *PGResolver) Resolve(ctx context.Context, addressID uuid.UUID) (*Address, error) {
	const q = `
		SELECT id, type, full_name, company, address_line1, address_line2,
		       city, state, postal_code, country, phone
		FROM addresses
		WHERE id = $1`

	var a Address
	err := r.pool.QueryRow(ctx, q, addressID).Scan(
		&a.ID, &a.Type, &a.FullName, &a.Company, &a.AddressLine1, &a.AddressLine2,
		&a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("address.resolve", "address", addressID.String())
		}
		return nil, domain.Internal(err, "address.resolve", "failed to load address")
	}
	return &a, nil
}

var _ Resolver = (*PGResolver)(nil)
