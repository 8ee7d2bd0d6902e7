package funnel

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/content"
	"github.com/noah-isme/funnel-api/internal/money"
	"github.com/noah-isme/funnel-api/internal/obs"
	"github.com/noah-isme/funnel-api/internal/payment"
)

// Charger performs one-click offer charges.
type Charger interface {
	ChargeOffer(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error)
}

// StepRef addresses a step from a URL.
type StepRef struct {
	Kind  StepKind
	Index int
}

// OfferView is the read model of an offer for page rendering.
type OfferView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Headline      string         `json:"headline,omitempty"`
	CheckboxLabel string         `json:"checkboxLabel,omitempty"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Price         string         `json:"price"`
	Plans         []catalog.Plan `json:"plans,omitempty"`
}

// View is the JSON model of a checkout or offer step.
type View struct {
	Step        string     `json:"step"`
	ProductSlug string     `json:"productSlug"`
	ProductName string     `json:"productName"`
	Offer       *OfferView `json:"offer,omitempty"`
	OrderBump   *OfferView `json:"orderBump,omitempty"`
	StepNumber  int        `json:"stepNumber,omitempty"`
	TotalSteps  int        `json:"totalSteps"`
	Purchases   []string   `json:"purchases"`
	AcceptURL   string     `json:"acceptUrl,omitempty"`
	DeclineURL  string     `json:"declineUrl,omitempty"`
}

// Outcome is the result of entering a step: either a view or a redirect.
type Outcome struct {
	View     *View
	Redirect string
}

// AcceptResult is the outcome of accepting an offer.
type AcceptResult struct {
	// Redirect is set when no charge was attempted.
	Redirect string
	Charge   payment.ChargeResult
	NextURL  string
	SkipURL  string
	// Purchases is the token after the attempt; unchanged on failure.
	Purchases []string
}

// PurchaseLine is one purchased offer on the thank-you page. Amounts are the
// offer's configured list price; the charged amount after plan selection,
// coupon and tax lives on the processor intent.
type PurchaseLine struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ListAmount int64  `json:"listAmount"`
	ListPrice  string `json:"listPrice"`
}

// ThankYouView is the terminal step read model.
type ThankYouView struct {
	Step           string                `json:"step"`
	ProductSlug    string                `json:"productSlug"`
	ProductName    string                `json:"productName"`
	Purchases      []string              `json:"purchases"`
	Lines          []PurchaseLine        `json:"lines"`
	ListTotal      int64                 `json:"listTotal"`
	ListTotalPrice string                `json:"listTotalPrice"`
	Currency       string                `json:"currency"`
	Testimonials   []content.Testimonial `json:"testimonials"`
}

// Sequencer drives the funnel state machine for one request at a time. It
// keeps no state between requests.
type Sequencer struct {
	Products     catalog.Store
	Charger      Charger
	Testimonials content.Store
	Paths        Paths
	Locale       string
	Logger       zerolog.Logger
}

// Enter resolves the page for ref. Offer steps without one-click credentials
// redirect to thank-you; steps that are disabled or out of range redirect to
// the step that follows them.
func (s *Sequencer) Enter(ctx context.Context, slug string, ref StepRef, st State) (Outcome, error) {
	product, seq, err := s.load(ctx, slug)
	if err != nil {
		return Outcome{}, err
	}
	if ref.Kind == StepCheckout {
		return Outcome{View: s.checkoutView(product, seq)}, nil
	}
	if !st.HasCredentials() {
		to := seq.ThankYou()
		s.recordTransition(Step{Kind: ref.Kind, Index: ref.Index}, to, ActionAbandon)
		return Outcome{Redirect: s.Paths.URL(product.Slug, to, st)}, nil
	}
	step, ok := seq.Lookup(ref.Kind, ref.Index)
	if !ok {
		return Outcome{Redirect: s.Paths.URL(product.Slug, seq.Following(ref.Kind, ref.Index), st)}, nil
	}
	return Outcome{View: &View{
		Step:        step.Name(),
		ProductSlug: product.Slug,
		ProductName: product.Name,
		Offer:       s.offerView(*step.Offer),
		StepNumber:  seq.Position(step),
		TotalSteps:  seq.TotalSteps(),
		Purchases:   st.Purchases.IDs(),
		AcceptURL:   s.Paths.ActionURL(product.Slug, step, ActionAccept, st),
		DeclineURL:  s.Paths.ActionURL(product.Slug, step, ActionDecline, st),
	}}, nil
}

// Accept charges the step's offer. Only a succeeded charge appends the offer
// to the purchases token and advances; any failure leaves the token unchanged
// and returns the skip target.
func (s *Sequencer) Accept(ctx context.Context, slug string, ref StepRef, st State, clientKey string) (AcceptResult, error) {
	product, seq, err := s.load(ctx, slug)
	if err != nil {
		return AcceptResult{}, err
	}
	if !st.HasCredentials() {
		return AcceptResult{Redirect: s.Paths.URL(product.Slug, seq.ThankYou(), st), Purchases: st.Purchases.IDs()}, nil
	}
	step, ok := seq.Lookup(ref.Kind, ref.Index)
	if !ok || !step.IsOffer() {
		return AcceptResult{Redirect: s.Paths.URL(product.Slug, seq.Following(ref.Kind, ref.Index), st), Purchases: st.Purchases.IDs()}, nil
	}

	res, err := s.Charger.ChargeOffer(ctx, payment.ChargeRequest{
		CustomerID:      st.CustomerID,
		PaymentMethodID: st.PaymentMethodID,
		ProductSlug:     product.Slug,
		OfferID:         step.Offer.ID,
		FunnelSession:   st.Session,
		ClientKey:       clientKey,
		Step:            step.Name(),
	})
	if err != nil {
		return AcceptResult{}, err
	}
	skip, err := seq.Transition(step, ActionDecline)
	if err != nil {
		return AcceptResult{}, err
	}
	out := AcceptResult{Charge: res, SkipURL: s.Paths.URL(product.Slug, skip, st), Purchases: st.Purchases.IDs()}
	if !res.Success {
		return out, nil
	}
	next, err := seq.Transition(step, ActionAccept)
	if err != nil {
		return AcceptResult{}, err
	}
	advanced := st.WithPurchases(st.Purchases.Append(step.Offer.ID))
	s.recordTransition(step, next, ActionAccept)
	out.NextURL = s.Paths.URL(product.Slug, next, advanced)
	out.SkipURL = ""
	out.Purchases = advanced.Purchases.IDs()
	return out, nil
}

// Decline moves to the next step without touching the purchases token.
func (s *Sequencer) Decline(ctx context.Context, slug string, ref StepRef, st State) (string, error) {
	product, seq, err := s.load(ctx, slug)
	if err != nil {
		return "", err
	}
	if !st.HasCredentials() {
		return s.Paths.URL(product.Slug, seq.ThankYou(), st), nil
	}
	step, ok := seq.Lookup(ref.Kind, ref.Index)
	if !ok || !step.IsOffer() {
		return s.Paths.URL(product.Slug, seq.Following(ref.Kind, ref.Index), st), nil
	}
	next, err := seq.Transition(step, ActionDecline)
	if err != nil {
		return "", err
	}
	s.recordTransition(step, next, ActionDecline)
	return s.Paths.URL(product.Slug, next, st), nil
}

// AfterCheckout returns the first step URL once the initial payment succeeded.
func (s *Sequencer) AfterCheckout(ctx context.Context, c payment.Completion) (string, []string, error) {
	product, seq, err := s.load(ctx, c.ProductSlug)
	if err != nil {
		return "", nil, err
	}
	purchases := NewPurchases()
	for _, id := range c.Purchases {
		purchases = purchases.Append(id)
	}
	st := State{CustomerID: c.CustomerID, PaymentMethodID: c.PaymentMethodID, Purchases: purchases, Session: c.FunnelSession}
	from := Step{Kind: StepCheckout}
	next, err := seq.Transition(from, ActionComplete)
	if err != nil {
		return "", nil, err
	}
	s.recordTransition(from, next, ActionComplete)
	return s.Paths.URL(product.Slug, next, st), purchases.IDs(), nil
}

// ThankYou renders the summary for the purchases token at list prices. It
// never charges.
func (s *Sequencer) ThankYou(ctx context.Context, slug string, st State) (ThankYouView, error) {
	product, _, err := s.load(ctx, slug)
	if err != nil {
		return ThankYouView{}, err
	}
	currency := product.Currency()
	view := ThankYouView{
		Step:         string(StepThankYou),
		ProductSlug:  product.Slug,
		ProductName:  product.Name,
		Purchases:    st.Purchases.IDs(),
		Currency:     currency,
		Testimonials: []content.Testimonial{},
	}
	for _, id := range view.Purchases {
		line := PurchaseLine{ID: id, Name: id}
		if offer, ok := product.OfferByID(id); ok {
			line.Name = offer.Name
			line.ListAmount = offer.Pricing.Amount
			line.ListPrice = money.FormatMoney(offer.Pricing.Amount, currency, s.Locale)
			view.ListTotal += offer.Pricing.Amount
		}
		view.Lines = append(view.Lines, line)
	}
	view.ListTotalPrice = money.FormatMoney(view.ListTotal, currency, s.Locale)
	if s.Testimonials != nil {
		items, err := s.Testimonials.ListApproved(ctx, product.Slug, 3)
		if err != nil {
			s.Logger.Warn().Err(err).Str("product", product.Slug).Msg("testimonials unavailable")
		} else if items != nil {
			view.Testimonials = items
		}
	}
	return view, nil
}

func (s *Sequencer) load(ctx context.Context, slug string) (catalog.Product, Sequence, error) {
	product, err := s.Products.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return catalog.Product{}, Sequence{}, common.NotFound(payment.CodeProductNotFound, "Product not found", err)
		}
		return catalog.Product{}, Sequence{}, err
	}
	if !product.Main.Enabled {
		return catalog.Product{}, Sequence{}, common.NotFound(payment.CodeProductNotFound, "Product not found", catalog.ErrProductNotFound)
	}
	return product, NewSequence(product), nil
}

func (s *Sequencer) checkoutView(p catalog.Product, seq Sequence) *View {
	v := &View{
		Step:        string(StepCheckout),
		ProductSlug: p.Slug,
		ProductName: p.Name,
		Offer:       s.offerView(p.Main),
		TotalSteps:  seq.TotalSteps(),
		Purchases:   NewPurchases().IDs(),
	}
	if p.BumpEnabled() {
		v.OrderBump = s.offerView(*p.Bump)
	}
	return v
}

func (s *Sequencer) offerView(o catalog.Offer) *OfferView {
	return &OfferView{
		ID:            o.ID,
		Name:          o.Name,
		Description:   o.Description,
		Headline:      o.Headline,
		CheckboxLabel: o.CheckboxLabel,
		Amount:        o.Pricing.Amount,
		Currency:      o.Pricing.Currency,
		Price:         money.FormatMoney(o.Pricing.Amount, o.Pricing.Currency, s.Locale),
		Plans:         o.Pricing.Plans,
	}
}

func (s *Sequencer) recordTransition(from, to Step, action Action) {
	obs.IncCounter(obs.FunnelTransitionTotal, from.Name(), to.Name(), string(action))
}
