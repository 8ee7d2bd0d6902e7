package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowTrailingBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := SlidingWindow{Client: client, Prefix: "funnel:rl:", Now: func() time.Time { return now }}
	ctx := context.Background()

	allowed, remaining, reset, err := limiter.Allow(ctx, "charge:cus_1", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)
	require.Equal(t, now.Add(time.Minute), reset)
	require.Equal(t, time.UTC, reset.Location())

	now = now.Add(30 * time.Second)
	allowed, remaining, reset, err = limiter.Allow(ctx, "charge:cus_1", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 0, remaining)
	require.Equal(t, now.Add(30*time.Second), reset, "reset follows the oldest event")

	allowed, _, _, err = limiter.Allow(ctx, "charge:cus_1", time.Minute, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	members, err := mr.ZMembers("funnel:rl:charge:cus_1")
	require.NoError(t, err)
	require.Len(t, members, 2, "refused events are not recorded")

	now = now.Add(31 * time.Second)
	allowed, remaining, _, err = limiter.Allow(ctx, "charge:cus_1", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed, "first event has left the window")
	require.Equal(t, 0, remaining)
}

func TestSlidingWindowDisabled(t *testing.T) {
	allowed, remaining, _, err := SlidingWindow{}.Allow(context.Background(), "k", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 3, remaining)
}
