// Package pricing assembles the authoritative price breakdown for a funnel
// checkout from product configuration, coupon outcome and buyer jurisdiction.
package pricing

import (
	"fmt"
	"strings"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/money"
)

// ErrCurrencyMismatch is returned when the selected offers do not share a currency.
var ErrCurrencyMismatch = catalog.ErrMixedCurrency

// Item is one priced line of a breakdown.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// Breakdown is an immutable price computation in minor units.
type Breakdown struct {
	Subtotal      int64   `json:"subtotal"`
	Discount      int64   `json:"discount"`
	Tax           int64   `json:"tax"`
	TaxRate       float64 `json:"taxRate"`
	Total         int64   `json:"total"`
	Currency      string  `json:"currency"`
	ReverseCharge bool    `json:"reverseCharge"`
	TaxLabel      string  `json:"taxLabel"`
	Items         []Item  `json:"items"`
}

// AfterDiscount is the taxable amount.
func (b Breakdown) AfterDiscount() int64 { return b.Subtotal - b.Discount }

// IncludesBump reports whether the breakdown carries the order bump line.
func (b Breakdown) IncludesBump(bumpID string) bool {
	for _, it := range b.Items {
		if it.ID == bumpID {
			return true
		}
	}
	return false
}

// Selection is the buyer's choice for the main offer.
type Selection struct {
	PlanID      string
	IncludeBump bool
}

// Buyer carries the jurisdiction inputs for tax.
type Buyer struct {
	Country   string
	VATNumber string
	B2B       bool
}

// Build computes subtotal, discount, tax and total. A nil or invalid coupon
// result applies no discount. The currency is taken from the main offer and
// never converted.
func Build(product catalog.Product, sel Selection, c *coupon.Result, buyer Buyer) (Breakdown, error) {
	currency := product.Currency()
	base, err := product.Main.Pricing.AmountFor(sel.PlanID)
	if err != nil {
		return Breakdown{}, err
	}
	items := []Item{{ID: catalog.MainOfferID, Name: mainItemName(product, sel.PlanID), Amount: base}}
	subtotal := base

	if sel.IncludeBump && product.BumpEnabled() {
		bump := product.Bump
		if bump.Pricing.Currency != currency {
			return Breakdown{}, fmt.Errorf("%w: bump %s is priced in %s", ErrCurrencyMismatch, bump.ID, bump.Pricing.Currency)
		}
		items = append(items, Item{ID: bump.ID, Name: bump.Name, Amount: bump.Pricing.Amount})
		subtotal += bump.Pricing.Amount
	}

	discount := Discount(subtotal, c)
	after := subtotal - discount
	tax := money.ComputeTax(after, money.TaxInput{
		Country:   buyer.Country,
		VATNumber: buyer.VATNumber,
		B2B:       buyer.B2B,
		Currency:  currency,
	})

	return Breakdown{
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           tax.TaxAmount,
		TaxRate:       tax.TaxRate,
		Total:         after + tax.TaxAmount,
		Currency:      currency,
		ReverseCharge: tax.ReverseCharge,
		TaxLabel:      tax.TaxLabel,
		Items:         items,
	}, nil
}

// Discount returns the amount a coupon takes off subtotal, bounded to [0, subtotal].
func Discount(subtotal int64, c *coupon.Result) int64 {
	if c == nil || !c.Valid || subtotal <= 0 {
		return 0
	}
	switch c.DiscountType {
	case coupon.Percent:
		return money.PercentDiscount(subtotal, c.DiscountAmount)
	case coupon.Fixed:
		return subtotal - money.FixedDiscount(subtotal, int64(c.DiscountAmount))
	default:
		return 0
	}
}

func mainItemName(p catalog.Product, planID string) string {
	name := p.Main.Name
	if name == "" {
		name = p.Name
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return name
	}
	for _, plan := range p.Main.Pricing.Plans {
		if plan.ID == planID && plan.Name != "" {
			return name + " (" + plan.Name + ")"
		}
	}
	return name
}
