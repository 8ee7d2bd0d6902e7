package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/coupon"
	"github.com/noah-isme/funnel-api/internal/events"
	"github.com/noah-isme/funnel-api/internal/lock"
	"github.com/noah-isme/funnel-api/internal/obs"
	"github.com/noah-isme/funnel-api/internal/pricing"
)

// Locker serialises work for one key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SessionTokens mints and checks the signed funnel session carried between steps.
type SessionTokens interface {
	Issue(customerID, productSlug string) (string, error)
	Verify(token, customerID, productSlug string) error
}

// Metadata keys written on processor intents for downstream reconciliation.
const (
	MetaProductSlug   = "product_slug"
	MetaPlanID        = "plan_id"
	MetaCouponCode    = "coupon_code"
	MetaCouponID      = "coupon_id"
	MetaIncludeBump   = "include_order_bump"
	MetaBumpID        = "order_bump_id"
	MetaSubtotal      = "subtotal"
	MetaDiscount      = "discount"
	MetaTax           = "tax"
	MetaTaxRate       = "tax_rate"
	MetaTotal         = "total"
	MetaCurrency      = "currency"
	MetaReverseCharge = "reverse_charge"
	MetaCountry       = "country"
	MetaVATNumber     = "vat_number"
	MetaOfferID       = "offer_id"
	MetaOfferSource   = "offer_source"
	MetaFunnelStep    = "funnel_step"
)

// InitialIntentRequest is the buyer input for the checkout intent.
type InitialIntentRequest struct {
	ProductSlug      string
	PlanID           string
	Email            string
	FirstName        string
	LastName         string
	Country          string
	VATNumber        string
	CouponCode       string
	IncludeOrderBump bool
	IdempotencyKey   string
}

// InitialIntent is returned to the checkout page.
type InitialIntent struct {
	ClientSecret    string            `json:"clientSecret"`
	CustomerID      string            `json:"customerId"`
	PaymentIntentID string            `json:"paymentIntentId"`
	Breakdown       pricing.Breakdown `json:"breakdown"`
	Coupon          *coupon.Result    `json:"coupon,omitempty"`
	FunnelSession   string            `json:"funnelSession,omitempty"`
}

// ChargeRequest identifies a one-click offer charge.
type ChargeRequest struct {
	CustomerID      string
	PaymentMethodID string
	ProductSlug     string
	OfferID         string
	FunnelSession   string
	// ClientKey is the per-click token supplied by the buyer's browser.
	ClientKey string
	// Step labels the funnel step for metadata, e.g. "upsell_1".
	Step string
}

// ChargeResult is the outcome of a one-click charge. Declines and required
// authentication are reported here rather than as errors.
type ChargeResult struct {
	Success         bool   `json:"success"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	OfferID         string `json:"offerId,omitempty"`
	Error           string `json:"error,omitempty"`
	RequiresAction  bool   `json:"requiresAction,omitempty"`
}

// Completion describes a checkout whose initial intent succeeded.
type Completion struct {
	PaymentIntentID string
	ProductSlug     string
	CustomerID      string
	PaymentMethodID string
	Purchases       []string
	FunnelSession   string
}

// Service coordinates buyer identities, checkout intents and offer charges.
type Service struct {
	Products  catalog.Store
	Offers    catalog.Resolver
	Coupons   coupon.Resolver
	Processor Processor
	Locker    Locker
	LockTTL   time.Duration
	Sessions  SessionTokens
	Events    *events.Bus
	Logger    zerolog.Logger
}

// Error codes surfaced by the orchestrator.
const (
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodeOfferNotFound        = "OFFER_NOT_FOUND"
	CodeCurrencyMismatch     = "CURRENCY_MISMATCH"
	CodeProcessorUnavailable = "PROCESSOR_UNAVAILABLE"
	CodePaymentNotCompleted  = "PAYMENT_NOT_COMPLETED"
	CodeChargeInProgress     = "CHARGE_IN_PROGRESS"
	CodeIdempotencyConflict  = "IDEMPOTENCY_CONFLICT"
)

// CreateInitialIntent prices the checkout, finds or creates the buyer identity
// and opens an intent that keeps the payment method for off-session use.
// Processor failures are not retried.
func (s *Service) CreateInitialIntent(ctx context.Context, req InitialIntentRequest) (InitialIntent, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateInitialIntent")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.intent.result", result))
		obs.IncCounter(obs.PaymentIntentTotal, s.Processor.Name(), result)
	}()

	product, err := s.loadProduct(ctx, req.ProductSlug)
	if err != nil {
		return InitialIntent{}, err
	}
	span.SetAttributes(attribute.String("product.slug", product.Slug))

	var couponResult *coupon.Result
	if strings.TrimSpace(req.CouponCode) != "" {
		res := s.Coupons.ValidateFor(ctx, req.CouponCode, product)
		couponResult = &res
	}
	vat := strings.TrimSpace(req.VATNumber)
	breakdown, err := pricing.Build(product,
		pricing.Selection{PlanID: req.PlanID, IncludeBump: req.IncludeOrderBump},
		couponResult,
		pricing.Buyer{Country: req.Country, VATNumber: vat, B2B: vat != ""},
	)
	if err != nil {
		return InitialIntent{}, pricingError(err)
	}

	customer, err := s.upsertCustomer(ctx, req)
	if err != nil {
		span.RecordError(err)
		return InitialIntent{}, processorError("upsert customer", err)
	}

	meta := breakdownMetadata(breakdown)
	meta[MetaProductSlug] = product.Slug
	meta[MetaCountry] = strings.ToUpper(strings.TrimSpace(req.Country))
	meta[MetaIncludeBump] = strconv.FormatBool(product.Bump != nil && breakdown.IncludesBump(product.Bump.ID))
	if product.Bump != nil && breakdown.IncludesBump(product.Bump.ID) {
		meta[MetaBumpID] = product.Bump.ID
	}
	if req.PlanID != "" {
		meta[MetaPlanID] = req.PlanID
	}
	if vat != "" {
		meta[MetaVATNumber] = vat
	}
	if couponResult != nil {
		meta[MetaCouponCode] = coupon.NormalizeCode(req.CouponCode)
		if couponResult.Valid {
			meta[MetaCouponID] = couponResult.CouponID
		}
	}

	params := IntentParams{
		Amount:            breakdown.Total,
		Currency:          breakdown.Currency,
		CustomerID:        customer.ID,
		SaveForOffSession: true,
		AutomaticMethods:  true,
		Description:       product.Name,
		Metadata:          meta,
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.IdempotencyKey = common.HashParts("checkout", product.Slug, customer.ID, key)
	}
	intent, err := s.Processor.CreateIntent(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent failed")
		return InitialIntent{}, processorError("create payment intent", err)
	}

	out := InitialIntent{
		ClientSecret:    intent.ClientSecret,
		CustomerID:      customer.ID,
		PaymentIntentID: intent.ID,
		Breakdown:       breakdown,
		Coupon:          couponResult,
	}
	if s.Sessions != nil {
		token, err := s.Sessions.Issue(customer.ID, product.Slug)
		if err != nil {
			return InitialIntent{}, fmt.Errorf("issue funnel session: %w", err)
		}
		out.FunnelSession = token
	}
	result = "success"
	s.emit(ctx, events.TopicCheckoutIntentCreated, intent.ID, map[string]any{
		"paymentIntentId": intent.ID,
		"customerId":      customer.ID,
		"productSlug":     product.Slug,
		"breakdown":       breakdown,
	})
	return out, nil
}

// ChargeOffer resolves the offer and confirms an off-session intent for its
// exact price against the saved payment method. When the request carries a
// client key or a funnel session the processor call is made with an
// idempotency key derived from them and the charge itself. The call runs under
// a per-buyer lock.
func (s *Service) ChargeOffer(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ChargeOffer")
	defer span.End()

	if s.Sessions != nil && strings.TrimSpace(req.FunnelSession) != "" {
		if err := s.Sessions.Verify(req.FunnelSession, req.CustomerID, req.ProductSlug); err != nil {
			return ChargeResult{}, common.InvalidField("funnelSession", "session", "funnel session is invalid or expired")
		}
	}

	resolved, err := s.Offers.ResolveOffer(ctx, req.ProductSlug, req.OfferID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrOfferNotFound):
			return ChargeResult{}, common.NotFound(CodeOfferNotFound, "Offer not found", err)
		case errors.Is(err, catalog.ErrMixedCurrency):
			return ChargeResult{}, common.NewAppError(CodeCurrencyMismatch, "Offer currency does not match the checkout", http.StatusBadRequest, err)
		default:
			return ChargeResult{}, err
		}
	}
	offer := resolved.Offer
	span.SetAttributes(
		attribute.String("offer.id", offer.ID),
		attribute.String("offer.source", resolved.Source.String()),
		attribute.Int64("offer.amount", offer.Pricing.Amount),
	)

	params := IntentParams{
		Amount:          offer.Pricing.Amount,
		Currency:        offer.Pricing.Currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		OffSession:      true,
		Confirm:         true,
		IdempotencyKey: OfferIdempotencyKey(OfferCharge{
			CustomerID:      req.CustomerID,
			PaymentMethodID: req.PaymentMethodID,
			OfferID:         offer.ID,
			Amount:          offer.Pricing.Amount,
			Currency:        offer.Pricing.Currency,
			FunnelSession:   req.FunnelSession,
			ClientKey:       req.ClientKey,
		}),
		Description:     offer.Name,
		Metadata: map[string]string{
			MetaProductSlug: req.ProductSlug,
			MetaOfferID:     offer.ID,
			MetaOfferSource: resolved.Source.String(),
			MetaTotal:       strconv.FormatInt(offer.Pricing.Amount, 10),
			MetaCurrency:    offer.Pricing.Currency,
		},
	}
	if req.Step != "" {
		params.Metadata[MetaFunnelStep] = req.Step
	}

	var intent Intent
	charge := func(ctx context.Context) error {
		var err error
		intent, err = s.Processor.CreateIntent(ctx, params)
		return err
	}
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, req.CustomerID, s.lockTTL(), charge)
	} else {
		err = charge(ctx)
	}

	var chargeErr *ChargeError
	switch {
	case errors.As(err, &chargeErr):
		res := ChargeResult{OfferID: offer.ID, Error: chargeErr.Message, RequiresAction: chargeErr.RequiresAction, PaymentIntentID: chargeErr.IntentID}
		if res.Error == "" {
			res.Error = "Your card was declined"
		}
		outcome := "declined"
		if res.RequiresAction {
			outcome = "requires_action"
			res.Error = "This payment requires additional authentication"
		}
		s.reportCharge(ctx, req, offer, outcome, res)
		return res, nil
	case errors.Is(err, lock.ErrNotAcquired):
		return ChargeResult{}, common.NewAppError(CodeChargeInProgress, "Another payment for this buyer is in progress", http.StatusConflict, err)
	case errors.Is(err, ErrIdempotencyConflict):
		return ChargeResult{}, common.NewAppError(CodeIdempotencyConflict, "This request key was already used for a different charge", http.StatusConflict, err)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		obs.IncCounter(obs.OfferChargeTotal, "error")
		s.Logger.Error().Err(err).Str("product", req.ProductSlug).Str("offer_id", offer.ID).Msg("offer charge failed")
		return ChargeResult{}, processorError("charge offer", err)
	}

	res := ChargeResult{OfferID: offer.ID, PaymentIntentID: intent.ID}
	switch intent.Status {
	case StatusSucceeded:
		res.Success = true
		s.reportCharge(ctx, req, offer, "succeeded", res)
	case StatusRequiresAction:
		res.RequiresAction = true
		res.Error = "This payment requires additional authentication"
		s.reportCharge(ctx, req, offer, "requires_action", res)
	default:
		res.Error = fmt.Sprintf("Payment was not completed (status: %s)", intent.Status)
		s.reportCharge(ctx, req, offer, "not_completed", res)
	}
	return res, nil
}

// CompleteCheckout confirms that the initial intent succeeded and returns the
// state the first funnel step needs.
func (s *Service) CompleteCheckout(ctx context.Context, paymentIntentID string) (Completion, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CompleteCheckout")
	defer span.End()

	intent, err := s.Processor.GetIntent(ctx, paymentIntentID)
	if err != nil {
		span.RecordError(err)
		return Completion{}, processorError("get payment intent", err)
	}
	if intent.Status != StatusSucceeded {
		return Completion{}, common.NewAppError(CodePaymentNotCompleted, "Payment has not completed", http.StatusBadRequest, nil).
			WithDetails(map[string]string{"status": string(intent.Status)})
	}
	slug := intent.Metadata[MetaProductSlug]
	if slug == "" {
		return Completion{}, common.NewAppError(CodeProductNotFound, "Payment is not linked to a product", http.StatusBadRequest, nil)
	}
	purchases := []string{catalog.MainOfferID}
	if intent.Metadata[MetaIncludeBump] == "true" && intent.Metadata[MetaBumpID] != "" {
		purchases = append(purchases, intent.Metadata[MetaBumpID])
	}
	out := Completion{
		PaymentIntentID: intent.ID,
		ProductSlug:     slug,
		CustomerID:      intent.CustomerID,
		PaymentMethodID: intent.PaymentMethodID,
		Purchases:       purchases,
	}
	if s.Sessions != nil && intent.CustomerID != "" {
		token, err := s.Sessions.Issue(intent.CustomerID, slug)
		if err != nil {
			return Completion{}, fmt.Errorf("issue funnel session: %w", err)
		}
		out.FunnelSession = token
	}
	s.emit(ctx, events.TopicCheckoutCompleted, intent.ID, map[string]any{
		"paymentIntentId": intent.ID,
		"customerId":      intent.CustomerID,
		"productSlug":     slug,
		"amount":          intent.Amount,
		"currency":        intent.Currency,
		"purchases":       purchases,
	})
	return out, nil
}

// OfferCharge is the input to OfferIdempotencyKey.
type OfferCharge struct {
	CustomerID      string
	PaymentMethodID string
	OfferID         string
	Amount          int64
	Currency        string
	FunnelSession   string
	ClientKey       string
}

// OfferIdempotencyKey derives the processor idempotency key for a one-click
// charge. It is empty when neither a client key nor a funnel session scopes
// the attempt, so unscoped retries are charged as new attempts.
func OfferIdempotencyKey(c OfferCharge) string {
	if strings.TrimSpace(c.ClientKey) == "" && strings.TrimSpace(c.FunnelSession) == "" {
		return ""
	}
	return common.HashParts(c.CustomerID, c.PaymentMethodID, c.OfferID,
		strconv.FormatInt(c.Amount, 10), strings.ToUpper(c.Currency), c.FunnelSession, c.ClientKey)
}

func (s *Service) loadProduct(ctx context.Context, slug string) (catalog.Product, error) {
	product, err := s.Products.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return catalog.Product{}, common.NotFound(CodeProductNotFound, "Product not found", err)
		}
		return catalog.Product{}, err
	}
	if !product.Main.Enabled {
		return catalog.Product{}, common.NotFound(CodeProductNotFound, "Product not found", catalog.ErrProductNotFound)
	}
	return product, nil
}

func (s *Service) upsertCustomer(ctx context.Context, req InitialIntentRequest) (Customer, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	params := CustomerParams{
		Email:   email,
		Name:    strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.LastName)),
		Country: strings.ToUpper(strings.TrimSpace(req.Country)),
		Metadata: map[string]string{
			MetaProductSlug: req.ProductSlug,
		},
	}
	existing, found, err := s.Processor.FindCustomerByEmail(ctx, email)
	if err != nil {
		return Customer{}, err
	}
	if found {
		return s.Processor.UpdateCustomer(ctx, existing.ID, params)
	}
	return s.Processor.CreateCustomer(ctx, params)
}

func (s *Service) reportCharge(ctx context.Context, req ChargeRequest, offer catalog.Offer, outcome string, res ChargeResult) {
	obs.IncCounter(obs.OfferChargeTotal, outcome)
	topic := events.TopicOfferFailed
	if res.Success {
		topic = events.TopicOfferCharged
	}
	aggregate := res.PaymentIntentID
	if aggregate == "" {
		aggregate = req.CustomerID
	}
	s.emit(ctx, topic, aggregate, map[string]any{
		"customerId":      req.CustomerID,
		"productSlug":     req.ProductSlug,
		"offerId":         offer.ID,
		"amount":          offer.Pricing.Amount,
		"currency":        offer.Pricing.Currency,
		"paymentIntentId": res.PaymentIntentID,
		"outcome":         outcome,
	})
	s.Logger.Info().Str("product", req.ProductSlug).Str("offer_id", offer.ID).Str("outcome", outcome).Msg("offer charge")
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 30 * time.Second
}

func breakdownMetadata(b pricing.Breakdown) map[string]string {
	return map[string]string{
		MetaSubtotal:      strconv.FormatInt(b.Subtotal, 10),
		MetaDiscount:      strconv.FormatInt(b.Discount, 10),
		MetaTax:           strconv.FormatInt(b.Tax, 10),
		MetaTaxRate:       strconv.FormatFloat(b.TaxRate, 'f', -1, 64),
		MetaTotal:         strconv.FormatInt(b.Total, 10),
		MetaCurrency:      b.Currency,
		MetaReverseCharge: strconv.FormatBool(b.ReverseCharge),
	}
}

func pricingError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrUnknownPlan):
		return common.InvalidField("planId", "plan", "unknown plan")
	case errors.Is(err, catalog.ErrMixedCurrency):
		return common.NewAppError(CodeCurrencyMismatch, "Offers in this checkout use different currencies", http.StatusBadRequest, err)
	default:
		return err
	}
}

func processorError(op string, err error) error {
	if errors.Is(err, ErrProcessorUnavailable) {
		return common.NewAppError(CodeProcessorUnavailable, "Payments are temporarily unavailable, please try again shortly", http.StatusServiceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
