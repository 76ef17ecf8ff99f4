// Package inventory implements the reservation ledger. Availability is
// always stock minus the sum of active holds; persisted stock only
// changes when a reservation is consumed.
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/repository"
)

// Store is the persistence surface the ledger needs.
// *repository.Store satisfies it.
type Store interface {
	GetProductStock(ctx context.Context, id uuid.UUID) (int32, error)
	AdjustProductStock(ctx context.Context, params repository.AdjustStockParams) error
	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, token string, from, to domain.ReservationStatus) (bool, error)
	ListReservationsByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error)
	ListExpiredHeldReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error)
}

// ReserveParams describes one all-or-nothing hold request.
type ReserveParams struct {
	CartID          uuid.UUID
	CustomerID      uuid.UUID
	Lines           []domain.ReservationLine
	QuoteTotalCents int64
	Currency        string
}

// Ledger is the single writer for inventory holds. One mutex orders all
// reserve, consume, release and sweep operations, so two concurrent
// checkouts can never both hold the last unit.
type Ledger struct {
	store  Store
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu sync.Mutex
	// held is the sum of HELD quantities per product. Rebuilt from the
	// reservations table on startup.
	held map[uuid.UUID]int32
}

// NewLedger creates a reservation ledger with the given hold TTL.
func NewLedger(store Store, ttl time.Duration, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		held:   make(map[uuid.UUID]int32),
	}
}

// Load rebuilds the in-memory hold index from persisted HELD
// reservations. Call once at startup before serving traffic.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservations, err := l.store.ListReservationsByStatus(ctx, domain.ReservationHeld)
	if err != nil {
		return err
	}

	l.held = make(map[uuid.UUID]int32)
	for _, r := range reservations {
		for _, line := range r.Lines {
			l.held[line.ProductID] += line.Quantity
		}
	}

	l.logger.Info().
		Int("reservations", len(reservations)).
		Int("products_held", len(l.held)).
		Msg("reservation ledger loaded")
	return nil
}

// Available returns the sellable quantity for a product: persisted
// stock minus active holds.
func (l *Ledger) Available(ctx context.Context, productID uuid.UUID) (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available(ctx, productID)
}

func (l *Ledger) available(ctx context.Context, productID uuid.UUID) (int32, error) {
	stock, err := l.store.GetProductStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	return stock - l.held[productID], nil
}

// Reserve places an all-or-nothing hold on every requested line. When
// any line cannot be covered the error reports every shortfall and no
// hold is taken at all.
func (l *Ledger) Reserve(ctx context.Context, params ReserveParams) (*domain.Reservation, error) {
	if len(params.Lines) == 0 {
		return nil, domain.Invalid("inventory.reserve", "reservation has no lines")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var shortfalls []domain.Shortfall
	for _, line := range params.Lines {
		available, err := l.available(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if line.Quantity > available {
			shortfalls = append(shortfalls, domain.Shortfall{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &domain.StockShortfallError{Op: "inventory.reserve", Shortfalls: shortfalls}
	}

	token, err := repository.NewReservationToken()
	if err != nil {
		return nil, domain.Internal(err, "inventory.reserve", "failed to generate reservation token")
	}

	now := l.now()
	reservation := &domain.Reservation{
		Token:           token,
		CartID:          params.CartID,
		CustomerID:      params.CustomerID,
		Lines:           params.Lines,
		Status:          domain.ReservationHeld,
		QuoteTotalCents: params.QuoteTotalCents,
		Currency:        params.Currency,
		CreatedAt:       now,
		ExpiresAt:       now.Add(l.ttl),
	}
	if err := l.store.CreateReservation(ctx, reservation); err != nil {
		return nil, domain.Internal(err, "inventory.reserve", "failed to persist reservation")
	}

	for _, line := range params.Lines {
		l.held[line.ProductID] += line.Quantity
	}

	l.logger.Info().
		Str("token", token).
		Int("lines", len(params.Lines)).
		Time("expires_at", reservation.ExpiresAt).
		Msg("reservation held")
	return reservation, nil
}

// Consume settles a hold exactly once: persisted stock is decremented
// and the hold removed. A second consume of the same token, or a
// consume of an expired or released hold, fails with a conflict.
func (l *Ledger) Consume(ctx context.Context, token string) (*domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, err := l.store.GetReservationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if reservation.Status == domain.ReservationHeld && reservation.Expired(l.now()) {
		// The sweep has not caught this one yet; expire it now.
		l.expireLocked(ctx, reservation)
		return nil, &domain.TransitionError{
			Entity: "reservation",
			From:   string(domain.ReservationHeld),
			To:     string(domain.ReservationConsumed),
			Reason: "reservation expired",
		}
	}

	moved, err := l.store.UpdateReservationStatus(ctx, token,
		domain.ReservationHeld, domain.ReservationConsumed)
	if err != nil {
		return nil, domain.Internal(err, "inventory.consume", "failed to update reservation")
	}
	if !moved {
		return nil, &domain.TransitionError{
			Entity: "reservation",
			From:   string(reservation.Status),
			To:     string(domain.ReservationConsumed),
			Reason: "reservation is not held",
		}
	}

	for _, line := range reservation.Lines {
		if err := l.store.AdjustProductStock(ctx, repository.AdjustStockParams{
			ProductID: line.ProductID,
			Delta:     -line.Quantity,
		}); err != nil {
			// Stock and hold disagreed with the reservation. The hold
			// guaranteed availability, so this indicates outside
			// interference with the stock table.
			l.logger.Error().Err(err).
				Str("token", token).
				Str("product_id", line.ProductID.String()).
				Msg("stock decrement failed for consumed reservation")
			return nil, domain.Internal(err, "inventory.consume", "stock decrement failed")
		}
	}

	l.removeHolds(reservation)
	reservation.Status = domain.ReservationConsumed

	l.logger.Info().Str("token", token).Msg("reservation consumed")
	return reservation, nil
}

// Release returns a hold to the pool. Releasing a reservation that is
// no longer held is a no-op, so abandoning callers can retry safely.
func (l *Ledger) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, err := l.store.GetReservationByToken(ctx, token)
	if err != nil {
		return err
	}

	moved, err := l.store.UpdateReservationStatus(ctx, token,
		domain.ReservationHeld, domain.ReservationReleased)
	if err != nil {
		return domain.Internal(err, "inventory.release", "failed to update reservation")
	}
	if !moved {
		return nil
	}

	l.removeHolds(reservation)
	l.logger.Info().Str("token", token).Msg("reservation released")
	return nil
}

// SweepExpired expires every HELD reservation past its TTL and returns
// the tokens it swept, so the caller can cancel anything still keyed to
// them, such as a dangling pending payment.
func (l *Ledger) SweepExpired(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expired, err := l.store.ListExpiredHeldReservations(ctx, l.now())
	if err != nil {
		return nil, err
	}

	var swept []string
	for i := range expired {
		if l.expireLocked(ctx, &expired[i]) {
			swept = append(swept, expired[i].Token)
		}
	}
	return swept, nil
}

// expireLocked transitions one reservation HELD -> EXPIRED and drops its
// holds. Caller must hold the mutex.
func (l *Ledger) expireLocked(ctx context.Context, r *domain.Reservation) bool {
	moved, err := l.store.UpdateReservationStatus(ctx, r.Token,
		domain.ReservationHeld, domain.ReservationExpired)
	if err != nil {
		l.logger.Error().Err(err).Str("token", r.Token).Msg("failed to expire reservation")
		return false
	}
	if !moved {
		return false
	}

	l.removeHolds(r)
	l.logger.Info().Str("token", r.Token).Msg("reservation expired")
	return true
}

// removeHolds drops a reservation's lines from the hold index.
// Caller must hold the mutex.
func (l *Ledger) removeHolds(r *domain.Reservation) {
	for _, line := range r.Lines {
		l.held[line.ProductID] -= line.Quantity
		if l.held[line.ProductID] <= 0 {
			delete(l.held, line.ProductID)
		}
	}
}
