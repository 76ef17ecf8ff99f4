package address

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/verdandi/shop/internal/domain"
)

// MockResolver is a test implementation of Resolver.
type MockResolver struct {
	mu        sync.RWMutex
	Addresses map[uuid.UUID]*Address

	// ResolveFunc overrides the default lookup behavior when set.
	ResolveFunc func(ctx context.Context, addressID uuid.UUID) (*Address, error)
}

// NewMockResolver creates an empty mock resolver.
func NewMockResolver() *MockResolver {
	return &MockResolver{Addresses: make(map[uuid.UUID]*Address)}
}

// Add registers an address.
func (m *MockResolver) Add(a *Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Addresses[a.ID] = a
}

// Resolve returns the registered address or a not-found error.
func (m *MockResolver) Resolve(ctx context.Context, addressID uuid.UUID) (*Address, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, addressID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.Addresses[addressID]
	if !ok {
		return nil, domain.NotFound("address.resolve", "address", addressID.String())
	}
	ca := *a
	return &ca, nil
}
