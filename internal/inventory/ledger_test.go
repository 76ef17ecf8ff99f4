package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/repository"
)

// fakeStore is an in-memory Store for ledger tests.
type fakeStore struct {
	mu           sync.Mutex
	stock        map[uuid.UUID]int32
	reservations map[string]*domain.Reservation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stock:        make(map[uuid.UUID]int32),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (f *fakeStore) GetProductStock(ctx context.Context, id uuid.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stock, ok := f.stock[id]
	if !ok {
		return 0, domain.NotFound("product.stock", "product", id.String())
	}
	return stock, nil
}

func (f *fakeStore) AdjustProductStock(ctx context.Context, params repository.AdjustStockParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.stock[params.ProductID] + params.Delta
	if next < 0 {
		return domain.Conflict("product.adjust_stock", "stock adjustment rejected")
	}
	f.stock[params.ProductID] = next
	return nil
}

func (f *fakeStore) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.reservations[r.Token] = &cp
	return nil
}

func (f *fakeStore) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[token]
	if !ok {
		return nil, domain.NotFound("reservation.get", "reservation", token)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) UpdateReservationStatus(ctx context.Context, token string, from, to domain.ReservationStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[token]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeStore) ListReservationsByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == status {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (f *fakeStore) ListExpiredHeldReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == domain.ReservationHeld && !r.ExpiresAt.After(cutoff) {
			result = append(result, *r)
		}
	}
	return result, nil
}

func newTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	return NewLedger(store, 15*time.Minute, zerolog.Nop())
}

func TestLedger_ReserveReducesAvailability(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 10

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 4}},
		Currency:   "USD",
	})
	require.NoError(t, err)

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(6), available)

	// Persisted stock is untouched until consume.
	assert.Equal(t, int32(10), store.stock[productID])
}

func TestLedger_ConcurrentReservesNeverOversell(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 1

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	var successes atomic.Int32

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, ReserveParams{
				CartID:     uuid.New(),
				CustomerID: uuid.New(),
				Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 1}},
				Currency:   "USD",
			})
			if err == nil {
				successes.Add(1)
			} else {
				_, ok := domain.IsStockShortfall(err)
				assert.True(t, ok, "losers must see a stock shortfall, got %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load(), "exactly one checkout may hold the last unit")

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), available)
}

func TestLedger_ReserveIsAllOrNothing(t *testing.T) {
	store := newFakeStore()
	inStock := uuid.New()
	scarce := uuid.New()
	missing := uuid.New()
	store.stock[inStock] = 100
	store.stock[scarce] = 2
	store.stock[missing] = 0

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines: []domain.ReservationLine{
			{ProductID: inStock, Quantity: 5},
			{ProductID: scarce, Quantity: 3},
			{ProductID: missing, Quantity: 1},
		},
		Currency: "USD",
	})
	require.Error(t, err)

	shortfall, ok := domain.IsStockShortfall(err)
	require.True(t, ok)
	require.Len(t, shortfall.Shortfalls, 2, "every uncovered line is reported")
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	// No partial hold was taken.
	available, err := ledger.Available(ctx, inStock)
	require.NoError(t, err)
	assert.Equal(t, int32(100), available)
}

func TestLedger_ConsumeDecrementsStockExactlyOnce(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 10

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 3}},
		Currency:   "USD",
	})
	require.NoError(t, err)

	consumed, err := ledger.Consume(ctx, reservation.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConsumed, consumed.Status)
	assert.Equal(t, int32(7), store.stock[productID])

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(7), available, "hold is gone, stock is settled")

	// Second consume is a conflict, not a second decrement.
	_, err = ledger.Consume(ctx, reservation.Token)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, int32(7), store.stock[productID])
}

func TestLedger_ReleaseRestoresAvailability(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 5

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 5}},
		Currency:   "USD",
	})
	require.NoError(t, err)

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), available)

	require.NoError(t, ledger.Release(ctx, reservation.Token))

	available, err = ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), available)

	// Releasing again is a no-op.
	require.NoError(t, ledger.Release(ctx, reservation.Token))
	available, err = ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), available)
}

func TestLedger_SweepExpiredRestoresAvailability(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 3

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 3}},
		Currency:   "USD",
	})
	require.NoError(t, err)

	// Advance the clock past the TTL.
	ledger.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	swept, err := ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{reservation.Token}, swept)

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), available)

	// The expired token can no longer be consumed.
	_, err = ledger.Consume(ctx, reservation.Token)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, int32(3), store.stock[productID], "expired checkout never touches stock")
}

func TestLedger_ConsumeAfterTTLExpiresInline(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 2

	ledger := newTestLedger(t, store)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, ReserveParams{
		CartID:     uuid.New(),
		CustomerID: uuid.New(),
		Lines:      []domain.ReservationLine{{ProductID: productID, Quantity: 2}},
		Currency:   "USD",
	})
	require.NoError(t, err)

	ledger.now = func() time.Time { return time.Now().Add(time.Hour) }

	// Consume beats the sweep to the expired hold; it must still fail
	// and free the units.
	_, err = ledger.Consume(ctx, reservation.Token)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	available, err := ledger.Available(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), available)
}

func TestLedger_LoadRebuildsHolds(t *testing.T) {
	store := newFakeStore()
	productID := uuid.New()
	store.stock[productID] = 10
	store.reservations["rsv_existing"] = &domain.Reservation{
		Token:     "rsv_existing",
		Status:    domain.ReservationHeld,
		Lines:     []domain.ReservationLine{{ProductID: productID, Quantity: 6}},
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}

	ledger := newTestLedger(t, store)
	require.NoError(t, ledger.Load(context.Background()))

	available, err := ledger.Available(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int32(4), available)
}
