// Package content serves read-only testimonials shown on the thank-you step.
package content

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Testimonial is an approved buyer quote for a product.
type Testimonial struct {
	ID          string    `json:"id"`
	ProductSlug string    `json:"productSlug"`
	Author      string    `json:"author"`
	Quote       string    `json:"quote"`
	Rating      int       `json:"rating,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store lists approved testimonials, newest first.
type Store interface {
	ListApproved(ctx context.Context, productSlug string, limit int) ([]Testimonial, error)
}

// Querier is the subset of pgxpool.Pool used by PGStore.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore reads testimonials from Postgres.
type PGStore struct {
	DB Querier
}

const listApproved = `SELECT id, product_slug, author, quote, rating, created_at
FROM testimonials
WHERE product_slug = $1 AND approved
ORDER BY created_at DESC
LIMIT $2`

// ListApproved implements Store.
func (s PGStore) ListApproved(ctx context.Context, productSlug string, limit int) ([]Testimonial, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.DB.Query(ctx, listApproved, strings.ToLower(productSlug), limit)
	if err != nil {
		return nil, fmt.Errorf("content: list testimonials: %w", err)
	}
	defer rows.Close()
	var out []Testimonial
	for rows.Next() {
		var (
			t      Testimonial
			id     pgtype.UUID
			rating pgtype.Int4
		)
		if err := rows.Scan(&id, &t.ProductSlug, &t.Author, &t.Quote, &rating, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("content: scan testimonial: %w", err)
		}
		if id.Valid {
			t.ID = uuid.UUID(id.Bytes).String()
		}
		if rating.Valid {
			t.Rating = int(rating.Int32)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MemoryStore keeps testimonials in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Testimonial
}

// NewMemoryStore seeds a MemoryStore.
func NewMemoryStore(items ...Testimonial) *MemoryStore {
	return &MemoryStore{items: append([]Testimonial(nil), items...)}
}

// ListApproved implements Store.
func (s *MemoryStore) ListApproved(_ context.Context, productSlug string, limit int) ([]Testimonial, error) {
	if limit <= 0 {
		limit = 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Testimonial
	for _, t := range s.items {
		if strings.EqualFold(t.ProductSlug, productSlug) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
