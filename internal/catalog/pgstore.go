package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the subset of pgxpool.Pool used by PGStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists product configuration as JSONB keyed by slug.
type PGStore struct {
	DB Querier
}

const selectProduct = `SELECT id, config, updated_at FROM funnel_products WHERE slug = $1`

const upsertProduct = `INSERT INTO funnel_products (id, slug, name, config)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slug) DO UPDATE
SET name = EXCLUDED.name, config = EXCLUDED.config, updated_at = now()
RETURNING id, updated_at`

// GetBySlug implements Store.
func (s PGStore) GetBySlug(ctx context.Context, slug string) (Product, error) {
	var (
		id      pgtype.UUID
		raw     []byte
		updated time.Time
	)
	if err := s.DB.QueryRow(ctx, selectProduct, slug).Scan(&id, &raw, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("catalog: load product %q: %w", slug, err)
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, fmt.Errorf("catalog: decode product %q: %w", slug, err)
	}
	if id.Valid {
		p.ID = uuid.UUID(id.Bytes).String()
	}
	p.UpdatedAt = updated
	return p, nil
}

// Upsert implements Store.
func (s PGStore) Upsert(ctx context.Context, p Product) (Product, error) {
	p.Normalize()
	id := uuid.New()
	if p.ID != "" {
		if parsed, err := uuid.Parse(p.ID); err == nil {
			id = parsed
		}
	}
	p.ID = ""
	p.UpdatedAt = time.Time{}
	raw, err := json.Marshal(p)
	if err != nil {
		return Product{}, err
	}
	var (
		savedID pgtype.UUID
		updated time.Time
	)
	if err := s.DB.QueryRow(ctx, upsertProduct, pgtype.UUID{Bytes: id, Valid: true}, p.Slug, p.Name, raw).Scan(&savedID, &updated); err != nil {
		return Product{}, fmt.Errorf("catalog: upsert product %q: %w", p.Slug, err)
	}
	p.ID = uuid.UUID(savedID.Bytes).String()
	p.UpdatedAt = updated
	return p, nil
}
