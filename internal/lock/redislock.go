// Package lock serialises work per key with a Redis lease. The payment service
// takes one per customer so two tabs cannot charge the same card concurrently.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/funnel-api/internal/resilience"
)

var (
	// ErrNotAcquired is returned when the lock is still held after WaitTimeout.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLeaseLost is the cancellation cause seen by fn when the lease could
	// not be renewed because another holder owns the key.
	ErrLeaseLost = errors.New("lock: lease lost")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out per-key leases. Waiters poll with jittered exponential
// backoff capped at MaxBackoff. While fn runs the lease is renewed every
// third of its TTL.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// WaitTimeout bounds the wait for a held lock. Zero waits until ctx is done.
	WaitTimeout time.Duration
}

// WithLock runs fn while holding key. The lease is released when fn returns,
// even on error or panic.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl < 10*time.Millisecond {
		ttl = 30 * time.Second
	}
	key = l.Prefix + key
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	defer close(stop)
	go l.renew(runCtx, cancel, stop, key, token, ttl)

	return fn(runCtx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	base := l.RetryBackoff
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	ceiling := l.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Second
	}
	var deadline <-chan time.Time
	if l.WaitTimeout > 0 {
		t := time.NewTimer(l.WaitTimeout)
		defer t.Stop()
		deadline = t.C
	}
	for attempt := 1; ; attempt++ {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(min(resilience.Backoff(base, attempt, 0.2), ceiling))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-deadline:
			timer.Stop()
			return ErrNotAcquired
		case <-timer.C:
		}
	}
}

func (l Locker) renew(ctx context.Context, cancel context.CancelCauseFunc, stop <-chan struct{}, key, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}
