// Package checkout serves buyer-facing price quotes for the checkout page.
package checkout

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/money"
	"github.com/noah-isme/funnel-api/internal/obs"
	"github.com/noah-isme/funnel-api/internal/pricing"
)

// QuoteRequest is the cart the buyer is looking at.
type QuoteRequest struct {
	ProductSlug  string
	PlanID       string
	OrderBumpIDs []string
	CouponCode   string
	Country      string
	Email        string
	VATNumber    string
	Locale       string
}

// Display carries the breakdown amounts formatted for the buyer's locale.
type Display struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

// Quote is a priced cart keyed by its fingerprint.
type Quote struct {
	Fingerprint string            `json:"fingerprint"`
	Breakdown   pricing.Breakdown `json:"breakdown"`
	Coupon      *coupon.Result    `json:"coupon,omitempty"`
	Display     Display           `json:"display"`
}

// Service prices carts. Quotes are cached by cart fingerprint; the cache only
// shortcuts repeated identical requests and never feeds the payment path.
type Service struct {
	Products catalog.Store
	Coupons  coupon.Resolver
	Cache    *catalog.Cache
	Logger   zerolog.Logger
}

// Quote returns the breakdown for req.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.Quote")
	defer span.End()

	fp := money.CartFingerprint(money.CartState{
		ProductID:    req.ProductSlug,
		PlanID:       req.PlanID,
		OrderBumpIDs: req.OrderBumpIDs,
		CouponCode:   req.CouponCode,
		Country:      req.Country,
		Email:        req.Email,
		VATNumber:    req.VATNumber,
	})
	span.SetAttributes(attribute.String("cart.fingerprint", fp))

	product, err := s.Products.GetBySlug(ctx, req.ProductSlug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return Quote{}, common.NotFound("PRODUCT_NOT_FOUND", "Product not found", err)
		}
		return Quote{}, err
	}
	if !product.Main.Enabled {
		return Quote{}, common.NotFound("PRODUCT_NOT_FOUND", "Product not found", catalog.ErrProductNotFound)
	}

	key := quoteKey(fp, product)
	var cached Quote
	hit, err := s.Cache.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		obs.IncCounter(obs.QuoteCacheTotal, "error")
		s.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("quote cache read failed")
	case hit:
		obs.IncCounter(obs.QuoteCacheTotal, "hit")
		cached.Display = display(cached.Breakdown, req.Locale)
		return cached, nil
	default:
		obs.IncCounter(obs.QuoteCacheTotal, "miss")
	}

	var couponResult *coupon.Result
	if strings.TrimSpace(req.CouponCode) != "" {
		res := s.Coupons.ValidateFor(ctx, req.CouponCode, product)
		couponResult = &res
	}
	vat := strings.TrimSpace(req.VATNumber)
	includeBump := product.Bump != nil && slices.Contains(req.OrderBumpIDs, product.Bump.ID)
	breakdown, err := pricing.Build(product,
		pricing.Selection{PlanID: req.PlanID, IncludeBump: includeBump},
		couponResult,
		pricing.Buyer{Country: req.Country, VATNumber: vat, B2B: vat != ""},
	)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownPlan):
			return Quote{}, common.InvalidField("planId", "plan", "unknown plan")
		case errors.Is(err, catalog.ErrMixedCurrency):
			return Quote{}, common.NewAppError("CURRENCY_MISMATCH", "Offers in this checkout use different currencies", http.StatusBadRequest, err)
		}
		return Quote{}, err
	}

	q := Quote{Fingerprint: fp, Breakdown: breakdown, Coupon: couponResult}
	if err := s.Cache.SetJSON(ctx, key, q); err != nil {
		s.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("quote cache write failed")
	}
	q.Display = display(breakdown, req.Locale)
	return q, nil
}

// quoteKey scopes cached quotes to the product revision so an admin update
// makes earlier quotes unreachable.
func quoteKey(fp string, p catalog.Product) string {
	return "funnel:quote:" + strconv.FormatInt(p.UpdatedAt.UnixNano(), 36) + ":" + fp
}

func display(b pricing.Breakdown, locale string) Display {
	return Display{
		Subtotal: money.FormatMoney(b.Subtotal, b.Currency, locale),
		Discount: money.FormatMoney(b.Discount, b.Currency, locale),
		Tax:      money.FormatMoney(b.Tax, b.Currency, locale),
		Total:    money.FormatMoney(b.Total, b.Currency, locale),
	}
}
