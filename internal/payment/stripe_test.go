package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestTranslateStripeCardError(t *testing.T) {
	err := translateStripeError(&stripe.Error{
		Type:        stripe.ErrorTypeCard,
		Code:        stripe.ErrorCodeCardDeclined,
		DeclineCode: stripe.DeclineCodeInsufficientFunds,
		Msg:         "Your card has insufficient funds.",
		PaymentIntent: &stripe.PaymentIntent{
			ID:     "pi_1",
			Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
		},
	})
	var ce *ChargeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "card_declined", ce.Code)
	assert.Equal(t, "insufficient_funds", ce.DeclineCode)
	assert.Equal(t, "pi_1", ce.IntentID)
	assert.False(t, ce.RequiresAction)
}

func TestTranslateStripeAuthenticationRequired(t *testing.T) {
	err := translateStripeError(&stripe.Error{
		Type:          stripe.ErrorTypeCard,
		Code:          stripe.ErrorCodeAuthenticationRequired,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusRequiresAction},
	})
	var ce *ChargeError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.RequiresAction)
}

func TestTranslateStripeLeavesOtherErrors(t *testing.T) {
	apiErr := &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "boom"}
	assert.Same(t, apiErr, translateStripeError(apiErr))

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, translateStripeError(plain))
}

func TestTranslateStripeIdempotencyError(t *testing.T) {
	err := translateStripeError(&stripe.Error{Type: stripe.ErrorTypeIdempotency, Msg: "Keys for idempotent requests can only be used with the same parameters"})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.False(t, isProcessorFailure(err))
}

func TestFromStripeIntent(t *testing.T) {
	in := fromStripeIntent(&stripe.PaymentIntent{
		ID:            "pi_3",
		Status:        stripe.PaymentIntentStatusSucceeded,
		Amount:        19900,
		Currency:      stripe.CurrencyUSD,
		Customer:      &stripe.Customer{ID: "cus_1"},
		PaymentMethod: &stripe.PaymentMethod{ID: "pm_1"},
		Metadata:      map[string]string{MetaProductSlug: "course"},
	})
	assert.Equal(t, StatusSucceeded, in.Status)
	assert.Equal(t, "USD", in.Currency)
	assert.Equal(t, "cus_1", in.CustomerID)
	assert.Equal(t, "pm_1", in.PaymentMethodID)
	assert.Zero(t, fromStripeIntent(nil).Amount)
}
