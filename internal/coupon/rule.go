// Package coupon validates coupon codes against the payment processor's
// coupon registry and reports the raw discount they grant.
package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/funnel-api/internal/money"
)

var (
	// ErrNotFound is returned by a Lookup when the registry has no such code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalid indicates the registry marks the coupon as no longer valid.
	ErrInvalid = errors.New("coupon is no longer valid")
	// ErrExpired indicates the redeem-by instant has passed.
	ErrExpired = errors.New("coupon has expired")
	// ErrRedemptionLimit indicates the coupon has been redeemed its maximum number of times.
	ErrRedemptionLimit = errors.New("coupon redemption limit reached")
	// ErrCurrencyMismatch indicates a fixed-amount coupon in another currency than the product.
	ErrCurrencyMismatch = errors.New("coupon currency does not match product")
	// ErrNoDiscount indicates the coupon grants neither a percentage nor an amount.
	ErrNoDiscount = errors.New("coupon has no discount")
)

// DiscountType tells how a discount value is interpreted.
type DiscountType string

const (
	Percent DiscountType = "percent"
	Fixed   DiscountType = "fixed"
)

// Record is a processor-neutral view of an upstream coupon.
type Record struct {
	ID             string
	Name           string
	Valid          bool
	PercentOff     float64
	AmountOff      int64
	Currency       string
	MaxRedemptions int64
	TimesRedeemed  int64
	RedeemBy       *time.Time
}

// NormalizeCode trims and upper-cases a buyer-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check applies registry flags, expiry, the redemption cap and the currency rule.
// A MaxRedemptions of zero means unlimited. A coupon whose redemption count has
// reached the cap is left to the registry's Valid flag; only a count beyond the
// cap is rejected here.
func (r Record) Check(now time.Time, productCurrency string) error {
	if !r.Valid {
		return ErrInvalid
	}
	if r.RedeemBy != nil && !now.Before(*r.RedeemBy) {
		return ErrExpired
	}
	if r.MaxRedemptions > 0 && r.TimesRedeemed > r.MaxRedemptions {
		return ErrRedemptionLimit
	}
	switch {
	case r.PercentOff > 0:
		return nil
	case r.AmountOff > 0:
		if r.Currency != "" && money.NormalizeCurrency(r.Currency) != money.NormalizeCurrency(productCurrency) {
			return ErrCurrencyMismatch
		}
		return nil
	default:
		return ErrNoDiscount
	}
}

// Discount returns the discount type and raw value of a coupon that passed Check.
// Percentages are capped at 100.
func (r Record) Discount() (DiscountType, float64) {
	if r.PercentOff > 0 {
		pct := r.PercentOff
		if pct > 100 {
			pct = 100
		}
		return Percent, pct
	}
	return Fixed, float64(r.AmountOff)
}

// Message maps a rejection error to buyer-facing text.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "This coupon has expired"
	case errors.Is(err, ErrRedemptionLimit):
		return "This coupon has reached its redemption limit"
	case errors.Is(err, ErrCurrencyMismatch):
		return "This coupon cannot be used for this product"
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrNoDiscount):
		return "This coupon is no longer valid"
	default:
		return "Invalid coupon code"
	}
}
