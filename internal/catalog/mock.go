package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/verdandi/shop/internal/domain"
)

// MockProvider is an in-memory catalog for testing.
type MockProvider struct {
	mu       sync.RWMutex
	Products map[uuid.UUID]*Product

	// GetProductFunc overrides the default lookup behavior when set.
	GetProductFunc func(ctx context.Context, productID uuid.UUID) (*Product, error)
}

// NewMockProvider creates an empty mock catalog.
func NewMockProvider() *MockProvider {
	return &MockProvider{Products: make(map[uuid.UUID]*Product)}
}

// Add registers a product in the mock catalog.
func (m *MockProvider) Add(p *Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Products[p.ID] = p
}

// GetProduct returns the registered product or a not-found error.
func (m *MockProvider) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, productID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.Products[productID]
	if !ok {
		return nil, domain.NotFound("catalog.get", "product", productID.String())
	}
	cp := *p
	return &cp, nil
}
