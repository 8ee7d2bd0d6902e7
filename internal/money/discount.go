package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentDiscount returns round(amount * percent / 100), never more than amount.
// Halves round away from zero.
func PercentDiscount(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return amount
	}
	d := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
	if d > amount {
		return amount
	}
	if d < 0 {
		return 0
	}
	return d
}

// FixedDiscount returns what remains of amount after subtracting discountAmount,
// floored at zero.
func FixedDiscount(amount, discountAmount int64) int64 {
	if discountAmount <= 0 {
		return max(amount, 0)
	}
	return max(amount-discountAmount, 0)
}
