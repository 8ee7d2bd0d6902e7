package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/funnel-api/internal/coupon"
)

// Stripe implements Processor on the Stripe API.
type Stripe struct {
	api *client.API
}

// NewStripe builds a Stripe processor. The HTTP client is instrumented with
// OpenTelemetry; no retries are configured.
func NewStripe(secretKey string, timeout time.Duration) *Stripe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api}
}

// Name implements Processor.
func (s *Stripe) Name() string { return "stripe" }

// FindCustomerByEmail implements Processor.
func (s *Stripe) FindCustomerByEmail(ctx context.Context, email string) (Customer, bool, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	it := s.api.Customers.List(params)
	if it.Next() {
		return fromStripeCustomer(it.Customer()), true, nil
	}
	if err := it.Err(); err != nil {
		return Customer{}, false, err
	}
	return Customer{}, false, nil
}

// CreateCustomer implements Processor.
func (s *Stripe) CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error) {
	c, err := s.api.Customers.New(customerParams(ctx, p))
	if err != nil {
		return Customer{}, err
	}
	return fromStripeCustomer(c), nil
}

// UpdateCustomer implements Processor.
func (s *Stripe) UpdateCustomer(ctx context.Context, id string, p CustomerParams) (Customer, error) {
	c, err := s.api.Customers.Update(id, customerParams(ctx, p))
	if err != nil {
		return Customer{}, err
	}
	return fromStripeCustomer(c), nil
}

func customerParams(ctx context.Context, p CustomerParams) *stripe.CustomerParams {
	params := &stripe.CustomerParams{Email: stripe.String(p.Email)}
	params.Context = ctx
	if name := strings.TrimSpace(p.Name); name != "" {
		params.Name = stripe.String(name)
	}
	if p.Country != "" {
		params.Address = &stripe.AddressParams{Country: stripe.String(p.Country)}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// CreateIntent implements Processor. Card errors raised while confirming are
// returned as *ChargeError.
func (s *Stripe) CreateIntent(ctx context.Context, p IntentParams) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(strings.ToLower(p.Currency)),
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.SaveForOffSession {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	if p.AutomaticMethods {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethodID)
	}
	if p.OffSession {
		params.OffSession = stripe.Bool(true)
	}
	if p.Confirm {
		params.Confirm = stripe.Bool(true)
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, translateStripeError(err)
	}
	return fromStripeIntent(pi), nil
}

// GetIntent implements Processor.
func (s *Stripe) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

// GetCoupon implements coupon.Lookup.
func (s *Stripe) GetCoupon(ctx context.Context, code string) (coupon.Record, error) {
	params := &stripe.CouponParams{}
	params.Context = ctx
	c, err := s.api.Coupons.Get(code, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return coupon.Record{}, coupon.ErrNotFound
		}
		return coupon.Record{}, err
	}
	rec := coupon.Record{
		ID:             c.ID,
		Name:           c.Name,
		Valid:          c.Valid,
		PercentOff:     c.PercentOff,
		AmountOff:      c.AmountOff,
		Currency:       string(c.Currency),
		MaxRedemptions: c.MaxRedemptions,
		TimesRedeemed:  c.TimesRedeemed,
	}
	if c.RedeemBy > 0 {
		t := time.Unix(c.RedeemBy, 0).UTC()
		rec.RedeemBy = &t
	}
	return rec, nil
}

func translateStripeError(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return err
	}
	if serr.Type == stripe.ErrorTypeIdempotency {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, serr.Msg)
	}
	if serr.Type != stripe.ErrorTypeCard {
		return err
	}
	ce := &ChargeError{
		Code:           string(serr.Code),
		Message:        serr.Msg,
		DeclineCode:    string(serr.DeclineCode),
		RequiresAction: serr.Code == stripe.ErrorCodeAuthenticationRequired,
	}
	if serr.PaymentIntent != nil {
		ce.IntentID = serr.PaymentIntent.ID
		if serr.PaymentIntent.Status == stripe.PaymentIntentStatusRequiresAction {
			ce.RequiresAction = true
		}
	}
	return ce
}

func fromStripeCustomer(c *stripe.Customer) Customer {
	if c == nil {
		return Customer{}
	}
	return Customer{ID: c.ID, Email: c.Email, Name: c.Name}
}

func fromStripeIntent(pi *stripe.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	out := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	return out
}
