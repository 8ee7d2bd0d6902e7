package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/funnel-api/internal/resilience"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(minReq int, target string) (*resilience.Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return resilience.NewBreaker(minReq, 0.5, time.Minute).WithTarget(target).WithClock(clock.now), clock
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b, clock := newBreaker(2, "recover")
	ctx := context.Background()

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Closed, b.State(), "below minimum requests")
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))

	clock.advance(time.Minute)
	require.True(t, b.Allow(ctx), "probe after cool-down")
	require.Equal(t, resilience.HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe at a time")

	b.Report(ctx, true)
	require.Equal(t, resilience.Closed, b.State())
	require.Equal(t, resilience.Counts{}, b.Counts())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock := newBreaker(1, "reopen")
	ctx := context.Background()

	b.Report(ctx, false)
	clock.advance(time.Minute)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())

	clock.advance(30 * time.Second)
	require.False(t, b.Allow(ctx), "cool-down restarts on reopen")
}

func TestBreakerDecaysOldOutcomes(t *testing.T) {
	b, _ := newBreaker(2, "decay")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Report(ctx, true)
	}
	b.Report(ctx, false)
	require.Equal(t, resilience.Counts{Requests: 2, Failures: 1}, b.Counts())
}

func TestBreakerDoSkipsBusinessErrors(t *testing.T) {
	b, _ := newBreaker(2, "do")
	ctx := context.Background()
	declined := errors.New("card declined")
	countable := func(err error) bool { return !errors.Is(err, declined) }

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return declined }, countable), declined)
	}
	require.Equal(t, resilience.Closed, b.State())

	outage := errors.New("connection refused")
	for i := 0; i < 4; i++ {
		_ = b.Do(ctx, func(context.Context) error { return outage }, countable)
	}
	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil }, countable)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)
}

func TestBreakerMetrics(t *testing.T) {
	b, clock := newBreaker(1, "metrics_probe")
	ctx := context.Background()

	b.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.StateGauge.WithLabelValues("metrics_probe")))
	require.False(t, b.Allow(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.Rejections.WithLabelValues("metrics_probe")))

	clock.advance(time.Minute)
	require.True(t, b.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.StateGauge.WithLabelValues("metrics_probe")))
	b.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.StateGauge.WithLabelValues("metrics_probe")))

	for _, tr := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, testutil.ToFloat64(resilience.Transitions.WithLabelValues("metrics_probe", tr[0], tr[1])), tr)
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 0, 0))
	require.Equal(t, 4*base, resilience.Backoff(base, 3, 0))
	require.Equal(t, base<<20, resilience.Backoff(base, 99, 0))

	for i := 0; i < 50; i++ {
		d := resilience.Backoff(base, 2, 0.2)
		require.GreaterOrEqual(t, d, 160*time.Millisecond)
		require.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
