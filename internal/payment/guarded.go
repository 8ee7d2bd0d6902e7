package payment

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/obs"
	"github.com/noah-isme/funnel-api/internal/resilience"
)

// Guarded wraps a Processor with a circuit breaker. Declines, missing coupons
// and caller cancellations do not count as processor failures.
type Guarded struct {
	Processor Processor
	Breaker   *resilience.Breaker
}

// Name implements Processor.
func (g Guarded) Name() string { return g.Processor.Name() }

// FindCustomerByEmail implements Processor.
func (g Guarded) FindCustomerByEmail(ctx context.Context, email string) (c Customer, found bool, err error) {
	err = g.do(ctx, "find_customer", func(ctx context.Context) error {
		c, found, err = g.Processor.FindCustomerByEmail(ctx, email)
		return err
	})
	return c, found, err
}

// CreateCustomer implements Processor.
func (g Guarded) CreateCustomer(ctx context.Context, p CustomerParams) (c Customer, err error) {
	err = g.do(ctx, "create_customer", func(ctx context.Context) error {
		c, err = g.Processor.CreateCustomer(ctx, p)
		return err
	})
	return c, err
}

// UpdateCustomer implements Processor.
func (g Guarded) UpdateCustomer(ctx context.Context, id string, p CustomerParams) (c Customer, err error) {
	err = g.do(ctx, "update_customer", func(ctx context.Context) error {
		c, err = g.Processor.UpdateCustomer(ctx, id, p)
		return err
	})
	return c, err
}

// CreateIntent implements Processor.
func (g Guarded) CreateIntent(ctx context.Context, p IntentParams) (in Intent, err error) {
	err = g.do(ctx, "create_intent", func(ctx context.Context) error {
		in, err = g.Processor.CreateIntent(ctx, p)
		return err
	})
	return in, err
}

// GetIntent implements Processor.
func (g Guarded) GetIntent(ctx context.Context, id string) (in Intent, err error) {
	err = g.do(ctx, "get_intent", func(ctx context.Context) error {
		in, err = g.Processor.GetIntent(ctx, id)
		return err
	})
	return in, err
}

// GetCoupon implements coupon.Lookup.
func (g Guarded) GetCoupon(ctx context.Context, code string) (rec coupon.Record, err error) {
	err = g.do(ctx, "get_coupon", func(ctx context.Context) error {
		rec, err = g.Processor.GetCoupon(ctx, code)
		return err
	})
	return rec, err
}

func (g Guarded) do(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	var err error
	if g.Breaker == nil {
		err = fn(ctx)
	} else {
		err = g.Breaker.Do(ctx, fn, isProcessorFailure)
	}
	obs.ObserveSince(obs.ProcessorLatency, start, g.Processor.Name(), op, callResult(err))
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return ErrProcessorUnavailable
	}
	return err
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrOpenCircuit):
		return "open_circuit"
	case !isProcessorFailure(err):
		return "rejected"
	default:
		return "error"
	}
}

func isProcessorFailure(err error) bool {
	var chargeErr *ChargeError
	switch {
	case errors.As(err, &chargeErr):
		return false
	case errors.Is(err, coupon.ErrNotFound), errors.Is(err, ErrIdempotencyConflict):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
