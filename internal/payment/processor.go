// Package payment orchestrates buyer payment identities, the initial checkout
// intent and one-click off-session charges for funnel offers.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/funnel-api/internal/coupon"
)

var (
	// ErrProcessorUnavailable is returned when the processor is short-circuited.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	// ErrIdempotencyConflict is returned when an idempotency key is reused with
	// different intent parameters.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
)

// IntentStatus mirrors the processor's payment intent lifecycle.
type IntentStatus string

const (
	StatusSucceeded             IntentStatus = "succeeded"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusProcessing            IntentStatus = "processing"
	StatusCanceled              IntentStatus = "canceled"
)

// Customer is the buyer payment identity held by the processor.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CustomerParams are the fields written when creating or updating a customer.
type CustomerParams struct {
	Email    string
	Name     string
	Country  string
	Metadata map[string]string
}

// IntentParams describes a payment intent to create.
type IntentParams struct {
	Amount     int64
	Currency   string
	CustomerID string

	// SaveForOffSession keeps the confirmed payment method for later one-click charges.
	SaveForOffSession bool
	// AutomaticMethods lets the processor UI choose payment methods.
	AutomaticMethods bool

	// PaymentMethodID, OffSession and Confirm are set for one-click charges.
	PaymentMethodID string
	OffSession      bool
	Confirm         bool

	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Intent is a processor payment intent.
type Intent struct {
	ID              string
	ClientSecret    string
	Status          IntentStatus
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// ChargeError is a buyer-side payment failure such as a decline or a required
// authentication step. It is an expected outcome, not a system fault.
type ChargeError struct {
	Code           string
	Message        string
	DeclineCode    string
	RequiresAction bool
	IntentID       string
}

func (e *ChargeError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Processor abstracts the operations required from the upstream payment processor.
type Processor interface {
	Name() string
	FindCustomerByEmail(ctx context.Context, email string) (Customer, bool, error)
	CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error)
	UpdateCustomer(ctx context.Context, id string, p CustomerParams) (Customer, error)
	CreateIntent(ctx context.Context, p IntentParams) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	coupon.Lookup
}
