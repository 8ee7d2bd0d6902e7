package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Delete removes keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func productKey(slug string) string { return "funnel:product:" + slug }

// CachedStore is a read-through cache in front of another Store. Cache
// failures are logged and fall back to the underlying store.
type CachedStore struct {
	Store  Store
	Cache  *Cache
	Logger zerolog.Logger
}

// GetBySlug implements Store.
func (s CachedStore) GetBySlug(ctx context.Context, slug string) (Product, error) {
	var p Product
	key := productKey(slug)
	hit, err := s.Cache.GetJSON(ctx, key, &p)
	if err != nil {
		s.Logger.Warn().Err(err).Str("slug", slug).Msg("product cache read failed")
	}
	if hit {
		return p, nil
	}
	p, err = s.Store.GetBySlug(ctx, slug)
	if err != nil {
		return Product{}, err
	}
	if err := s.Cache.SetJSON(ctx, key, p); err != nil {
		s.Logger.Warn().Err(err).Str("slug", slug).Msg("product cache write failed")
	}
	return p, nil
}

// Upsert writes through and invalidates the cached copy.
func (s CachedStore) Upsert(ctx context.Context, p Product) (Product, error) {
	saved, err := s.Store.Upsert(ctx, p)
	if err != nil {
		return Product{}, err
	}
	if err := s.Cache.Delete(ctx, productKey(saved.Slug)); err != nil {
		s.Logger.Warn().Err(err).Str("slug", saved.Slug).Msg("product cache invalidation failed")
	}
	return saved, nil
}
