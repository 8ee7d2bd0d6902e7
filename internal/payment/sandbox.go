package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/funnel-api/internal/coupon"
)

// Sandbox payment methods that trigger specific outcomes on one-click charges.
// Any other payment method id succeeds.
const (
	TestMethodVisa                   = "pm_card_visa"
	TestMethodDeclined               = "pm_card_chargeDeclined"
	TestMethodInsufficientFunds      = "pm_card_chargeDeclinedInsufficientFunds"
	TestMethodAuthenticationRequired = "pm_card_authenticationRequired"
	TestMethodProcessing             = "pm_card_processing"
)

// Sandbox is an in-memory Processor for local funnels and tests. It honours
// idempotency keys the way the real processor does: a reused key replays the
// first result, declines included, and fails if the parameters differ.
type Sandbox struct {
	mu          sync.Mutex
	customers   map[string]Customer
	byEmail     map[string]string
	intents     map[string]Intent
	idempotency map[string]sandboxReplay
	coupons     map[string]coupon.Record
}

type sandboxReplay struct {
	params   string
	intentID string
	err      *ChargeError
}

// NewSandbox seeds a Sandbox with coupons keyed by code.
func NewSandbox(coupons ...coupon.Record) *Sandbox {
	s := &Sandbox{
		customers:   map[string]Customer{},
		byEmail:     map[string]string{},
		intents:     map[string]Intent{},
		idempotency: map[string]sandboxReplay{},
		coupons:     map[string]coupon.Record{},
	}
	for _, c := range coupons {
		s.coupons[coupon.NormalizeCode(c.ID)] = c
	}
	return s
}

// Name implements Processor.
func (s *Sandbox) Name() string { return "sandbox" }

// FindCustomerByEmail implements Processor.
func (s *Sandbox) FindCustomerByEmail(_ context.Context, email string) (Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return Customer{}, false, nil
	}
	return s.customers[id], true, nil
}

// CreateCustomer implements Processor.
func (s *Sandbox) CreateCustomer(_ context.Context, p CustomerParams) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Customer{ID: "cus_" + shortID(), Email: p.Email, Name: p.Name}
	s.customers[c.ID] = c
	s.byEmail[strings.ToLower(p.Email)] = c.ID
	return c, nil
}

// UpdateCustomer implements Processor.
func (s *Sandbox) UpdateCustomer(_ context.Context, id string, p CustomerParams) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, errors.New("sandbox: no such customer " + id)
	}
	if p.Name != "" {
		c.Name = p.Name
	}
	s.customers[id] = c
	return c, nil
}

// CreateIntent implements Processor.
func (s *Sandbox) CreateIntent(_ context.Context, p IntentParams) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fingerprint := intentFingerprint(p)
	if p.IdempotencyKey != "" {
		if prev, ok := s.idempotency[p.IdempotencyKey]; ok {
			if prev.params != fingerprint {
				return Intent{}, ErrIdempotencyConflict
			}
			if prev.err != nil {
				return Intent{}, prev.err
			}
			return s.intents[prev.intentID], nil
		}
	}
	if p.CustomerID != "" {
		if _, ok := s.customers[p.CustomerID]; !ok {
			return Intent{}, errors.New("sandbox: no such customer " + p.CustomerID)
		}
	}
	id := "pi_" + shortID()
	in := Intent{
		ID:              id,
		ClientSecret:    id + "_secret_" + shortID(),
		Status:          StatusRequiresPaymentMethod,
		Amount:          p.Amount,
		Currency:        strings.ToUpper(p.Currency),
		CustomerID:      p.CustomerID,
		PaymentMethodID: p.PaymentMethodID,
		Metadata:        copyMetadata(p.Metadata),
	}
	var chargeErr *ChargeError
	if p.Confirm {
		switch p.PaymentMethodID {
		case TestMethodDeclined:
			in.Status = StatusRequiresPaymentMethod
			chargeErr = &ChargeError{Code: "card_declined", DeclineCode: "generic_decline", Message: "Your card was declined.", IntentID: id}
		case TestMethodInsufficientFunds:
			in.Status = StatusRequiresPaymentMethod
			chargeErr = &ChargeError{Code: "card_declined", DeclineCode: "insufficient_funds", Message: "Your card has insufficient funds.", IntentID: id}
		case TestMethodAuthenticationRequired:
			in.Status = StatusRequiresAction
			if p.OffSession {
				chargeErr = &ChargeError{Code: "authentication_required", Message: "This payment requires authentication.", RequiresAction: true, IntentID: id}
			}
		case TestMethodProcessing:
			in.Status = StatusProcessing
		default:
			in.Status = StatusSucceeded
		}
	}
	s.intents[id] = in
	if p.IdempotencyKey != "" {
		s.idempotency[p.IdempotencyKey] = sandboxReplay{params: fingerprint, intentID: id, err: chargeErr}
	}
	if chargeErr != nil {
		return Intent{}, chargeErr
	}
	return in, nil
}

// GetIntent implements Processor.
func (s *Sandbox) GetIntent(_ context.Context, id string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return Intent{}, errors.New("sandbox: no such payment intent " + id)
	}
	return in, nil
}

// GetCoupon implements coupon.Lookup.
func (s *Sandbox) GetCoupon(_ context.Context, code string) (coupon.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return coupon.Record{}, coupon.ErrNotFound
	}
	return c, nil
}

// ConfirmIntent simulates the buyer completing the processor UI for an
// initial intent with the given payment method.
func (s *Sandbox) ConfirmIntent(id, paymentMethodID string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return Intent{}, errors.New("sandbox: no such payment intent " + id)
	}
	in.PaymentMethodID = paymentMethodID
	switch paymentMethodID {
	case TestMethodDeclined, TestMethodInsufficientFunds:
		in.Status = StatusRequiresPaymentMethod
	case TestMethodAuthenticationRequired:
		in.Status = StatusRequiresAction
	default:
		in.Status = StatusSucceeded
	}
	s.intents[id] = in
	return in, nil
}

// IntentCount returns how many intents were created.
func (s *Sandbox) IntentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

func intentFingerprint(p IntentParams) string {
	return strings.Join([]string{
		strconv.FormatInt(p.Amount, 10),
		strings.ToUpper(p.Currency),
		p.CustomerID,
		p.PaymentMethodID,
		strconv.FormatBool(p.OffSession),
		strconv.FormatBool(p.Confirm),
	}, "|")
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
