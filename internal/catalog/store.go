package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the product configuration lookup. Records are owned by admin tooling;
// the funnel only reads them.
type Store interface {
	GetBySlug(ctx context.Context, slug string) (Product, error)
	Upsert(ctx context.Context, p Product) (Product, error)
}

// MemoryStore keeps products in process. Used for tests and local sandboxes.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryStore seeds a MemoryStore with the provided products.
func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{products: make(map[string]Product, len(products))}
	for _, p := range products {
		_, _ = s.Upsert(context.Background(), p)
	}
	return s
}

// GetBySlug implements Store.
func (s *MemoryStore) GetBySlug(_ context.Context, slug string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, p Product) (Product, error) {
	p.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.products[p.Slug]; ok {
		p.ID = existing.ID
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = time.Now().UTC()
	s.products[p.Slug] = p
	return p, nil
}
