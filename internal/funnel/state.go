package funnel

import (
	"net/url"
	"strconv"
	"strings"
)

// URL parameters carrying funnel state between steps.
const (
	ParamCustomerID    = "customer_id"
	ParamPaymentMethod = "payment_method"
	ParamPurchases     = "purchases"
	ParamSession       = "funnel_session"
)

// State is everything a step knows about the buyer. It only ever travels in
// the query string.
type State struct {
	CustomerID      string
	PaymentMethodID string
	Purchases       Purchases
	Session         string
}

// StateFromQuery reads State from URL parameters.
func StateFromQuery(q url.Values) State {
	return State{
		CustomerID:      strings.TrimSpace(q.Get(ParamCustomerID)),
		PaymentMethodID: strings.TrimSpace(q.Get(ParamPaymentMethod)),
		Purchases:       ParsePurchases(q.Get(ParamPurchases)),
		Session:         strings.TrimSpace(q.Get(ParamSession)),
	}
}

// HasCredentials reports whether a one-click charge can be attempted.
func (s State) HasCredentials() bool {
	return s.CustomerID != "" && s.PaymentMethodID != ""
}

// WithPurchases returns s carrying p.
func (s State) WithPurchases(p Purchases) State {
	s.Purchases = p
	return s
}

// Query encodes s. Empty values are omitted.
func (s State) Query() url.Values {
	q := url.Values{}
	if s.CustomerID != "" {
		q.Set(ParamCustomerID, s.CustomerID)
	}
	if s.PaymentMethodID != "" {
		q.Set(ParamPaymentMethod, s.PaymentMethodID)
	}
	q.Set(ParamPurchases, s.Purchases.String())
	if s.Session != "" {
		q.Set(ParamSession, s.Session)
	}
	return q
}

// Paths builds step URLs under a base path such as "/funnel".
type Paths struct {
	Base string
}

// StepPath returns the path of step for slug without a query.
func (p Paths) StepPath(slug string, step Step) string {
	prefix := strings.TrimRight(p.Base, "/") + "/" + url.PathEscape(slug)
	switch step.Kind {
	case StepCheckout:
		return prefix + "/checkout"
	case StepUpsell:
		return prefix + "/upsell/" + strconv.Itoa(step.Index)
	case StepDownsell:
		return prefix + "/downsell"
	default:
		return prefix + "/thank-you"
	}
}

// URL returns the step URL carrying state. The thank-you step only receives
// the purchases token.
func (p Paths) URL(slug string, step Step, st State) string {
	q := st.Query()
	if step.Kind == StepThankYou {
		q = url.Values{ParamPurchases: []string{st.Purchases.String()}}
	}
	return p.StepPath(slug, step) + "?" + q.Encode()
}

// ActionURL returns the accept or decline endpoint for an offer step.
func (p Paths) ActionURL(slug string, step Step, action Action, st State) string {
	return p.StepPath(slug, step) + "/" + string(action) + "?" + st.Query().Encode()
}
