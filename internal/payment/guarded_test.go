package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/resilience"
)

type flakyProcessor struct {
	*Sandbox
	err   error
	calls int
}

func (f *flakyProcessor) GetIntent(ctx context.Context, id string) (Intent, error) {
	f.calls++
	if f.err != nil {
		return Intent{}, f.err
	}
	return f.Sandbox.GetIntent(ctx, id)
}

func TestGuardedOpensOnOutages(t *testing.T) {
	inner := &flakyProcessor{Sandbox: NewSandbox(), err: errors.New("connection reset")}
	g := Guarded{Processor: inner, Breaker: resilience.NewBreaker(3, 0.5, time.Minute).WithTarget("payment_processor")}

	for i := 0; i < 3; i++ {
		_, err := g.GetIntent(context.Background(), "pi_x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrProcessorUnavailable)
	}
	_, err := g.GetIntent(context.Background(), "pi_x")
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedIgnoresBusinessOutcomes(t *testing.T) {
	inner := &flakyProcessor{Sandbox: NewSandbox(), err: &ChargeError{Code: "card_declined"}}
	g := Guarded{Processor: inner, Breaker: resilience.NewBreaker(2, 0.5, time.Minute)}

	for i := 0; i < 5; i++ {
		_, err := g.GetIntent(context.Background(), "pi_x")
		var ce *ChargeError
		require.ErrorAs(t, err, &ce)
	}
	for i := 0; i < 3; i++ {
		_, err := g.GetCoupon(context.Background(), "MISSING")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	}
	assert.Equal(t, resilience.Closed, g.Breaker.State())
}

func TestGuardedWithoutBreaker(t *testing.T) {
	g := Guarded{Processor: NewSandbox()}
	assert.Equal(t, "sandbox", g.Name())
	_, found, err := g.FindCustomerByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}
