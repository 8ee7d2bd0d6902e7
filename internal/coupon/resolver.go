package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/obs"
)

// Lookup retrieves a coupon from the upstream registry by normalised code.
type Lookup interface {
	GetCoupon(ctx context.Context, code string) (Record, error)
}

// Result is the outcome of a coupon validation. Invalid coupons are a value,
// not an error.
type Result struct {
	Valid          bool         `json:"valid"`
	CouponID       string       `json:"couponId,omitempty"`
	DiscountType   DiscountType `json:"discountType,omitempty"`
	DiscountAmount float64      `json:"discountAmount,omitempty"`
	Name           string       `json:"name,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Invalid builds a rejected Result carrying the buyer-facing reason for err.
func Invalid(err error) Result {
	return Result{Valid: false, Error: Message(err)}
}

// Resolver validates coupon codes for a product.
type Resolver struct {
	Products catalog.Store
	Coupons  Lookup
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Validate resolves the product, then fetches and checks the coupon. Only
// product lookup failures are returned as errors; every upstream coupon
// failure yields Result{Valid: false}.
func (r Resolver) Validate(ctx context.Context, code, productSlug string) (Result, error) {
	ctx, span := otel.Tracer("coupon.Resolver").Start(ctx, "coupon.Validate")
	defer span.End()

	product, err := r.Products.GetBySlug(ctx, productSlug)
	if err != nil {
		return Result{}, err
	}
	res := r.ValidateFor(ctx, code, product)
	span.SetAttributes(
		attribute.String("product.slug", product.Slug),
		attribute.Bool("coupon.valid", res.Valid),
	)
	return res, nil
}

// ValidateFor is Validate for an already resolved product.
func (r Resolver) ValidateFor(ctx context.Context, code string, product catalog.Product) Result {
	code = NormalizeCode(code)
	if code == "" {
		obs.IncCounter(obs.CouponValidationTotal, "invalid")
		return Invalid(ErrNotFound)
	}
	rec, err := r.Coupons.GetCoupon(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.Logger.Warn().Err(err).Str("coupon", code).Str("product", product.Slug).Msg("coupon lookup failed")
		}
		obs.IncCounter(obs.CouponValidationTotal, "lookup_failed")
		return Invalid(ErrNotFound)
	}
	if err := rec.Check(r.now(), product.Currency()); err != nil {
		obs.IncCounter(obs.CouponValidationTotal, "invalid")
		return Invalid(err)
	}
	kind, value := rec.Discount()
	obs.IncCounter(obs.CouponValidationTotal, "valid")
	return Result{
		Valid:          true,
		CouponID:       rec.ID,
		DiscountType:   kind,
		DiscountAmount: value,
		Name:           rec.Name,
	}
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
