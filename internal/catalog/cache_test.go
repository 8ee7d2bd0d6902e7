package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	Store
	gets int
}

func (c *countingStore) GetBySlug(ctx context.Context, slug string) (Product, error) {
	c.gets++
	return c.Store.GetBySlug(ctx, slug)
}

func TestCachedStoreReadThroughAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingStore{Store: NewMemoryStore(sampleProduct())}
	store := CachedStore{Store: inner, Cache: NewCache(rdb, time.Minute), Logger: zerolog.Nop()}
	ctx := context.Background()

	p, err := store.GetBySlug(ctx, "course")
	require.NoError(t, err)
	assert.Equal(t, "Course", p.Name)
	assert.True(t, mr.Exists(productKey("course")))

	_, err = store.GetBySlug(ctx, "course")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)

	p.Name = "Course v2"
	_, err = store.Upsert(ctx, p)
	require.NoError(t, err)
	assert.False(t, mr.Exists(productKey("course")))

	p, err = store.GetBySlug(ctx, "course")
	require.NoError(t, err)
	assert.Equal(t, "Course v2", p.Name)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStoreMissDoesNotCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := CachedStore{Store: NewMemoryStore(), Cache: NewCache(rdb, time.Minute), Logger: zerolog.Nop()}
	_, err := store.GetBySlug(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.False(t, mr.Exists(productKey("ghost")))
}

func TestCachedStoreWithoutRedis(t *testing.T) {
	store := CachedStore{Store: NewMemoryStore(sampleProduct()), Cache: NewCache(nil, time.Minute), Logger: zerolog.Nop()}
	p, err := store.GetBySlug(context.Background(), "course")
	require.NoError(t, err)
	assert.Equal(t, "course", p.Slug)
}
