package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/money"
)

// MainOfferID identifies the base product in purchase tokens.
const MainOfferID = "main"

var (
	// ErrProductNotFound is returned when no product exists for a slug.
	ErrProductNotFound = errors.New("product not found")
	// ErrOfferNotFound is returned when an offer cannot be resolved either as a
	// standalone record or inside the main product.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrMixedCurrency is returned when offers assembled into one funnel do not
	// share a currency.
	ErrMixedCurrency = errors.New("offers use different currencies")
	// ErrUnknownPlan is returned when a plan id does not exist on a pricing descriptor.
	ErrUnknownPlan = errors.New("unknown plan")
)

var offerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,119}$`)

// ValidOfferID reports whether id can be carried in the purchases token:
// letters, digits, dots, dashes and underscores, starting with a letter or digit.
func ValidOfferID(id string) bool { return offerIDPattern.MatchString(id) }

// Role tags an offer with its position in the funnel.
type Role string

const (
	RoleMain     Role = "main"
	RoleBump     Role = "bump"
	RoleUpsell   Role = "upsell"
	RoleDownsell Role = "downsell"
)

// Plan is one tier of a pricing descriptor.
type Plan struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

// Pricing is an amount in minor units with its currency and optional tiers.
type Pricing struct {
	Amount   int64  `json:"amount" validate:"gte=0"`
	Currency string `json:"currency" validate:"required,iso4217"`
	Plans    []Plan `json:"plans,omitempty" validate:"omitempty,dive"`
}

// AmountFor returns the amount for planID, or the base amount when planID is empty.
func (p Pricing) AmountFor(planID string) (int64, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return p.Amount, nil
	}
	for _, plan := range p.Plans {
		if plan.ID == planID {
			return plan.Amount, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
}

// Offer is any sellable entity in a funnel. Role decides which of the
// role-specific fields are required.
type Offer struct {
	ID          string  `json:"id" validate:"required"`
	Slug        string  `json:"slug,omitempty"`
	Role        Role    `json:"role" validate:"required,oneof=main bump upsell downsell"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`
	Pricing     Pricing `json:"pricing"`

	// CheckboxLabel is shown next to the order bump checkbox. Bump only.
	CheckboxLabel string `json:"checkboxLabel,omitempty"`
	// Headline is the one-click offer page heading. Upsell and downsell only.
	Headline string `json:"headline,omitempty"`
}

// Matches reports whether ref names this offer by id or slug.
func (o Offer) Matches(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	return o.ID == ref || (o.Slug != "" && strings.EqualFold(o.Slug, ref))
}

// Product is the funnel configuration for one sellable slug.
type Product struct {
	ID        string    `json:"id,omitempty"`
	Slug      string    `json:"slug" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Main      Offer     `json:"main"`
	Bump      *Offer    `json:"orderBump,omitempty"`
	Upsells   []Offer   `json:"upsells,omitempty" validate:"omitempty,dive"`
	Downsell  *Offer    `json:"downsell,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Currency returns the funnel currency, which is the main offer's.
func (p Product) Currency() string { return p.Main.Pricing.Currency }

// BumpEnabled reports whether an order bump can be added at checkout.
func (p Product) BumpEnabled() bool { return p.Bump != nil && p.Bump.Enabled }

// DownsellEnabled reports whether the downsell step is part of the funnel.
func (p Product) DownsellEnabled() bool { return p.Downsell != nil && p.Downsell.Enabled }

// EnabledUpsells returns upsells in configured order, skipping disabled ones.
func (p Product) EnabledUpsells() []Offer {
	out := make([]Offer, 0, len(p.Upsells))
	for _, u := range p.Upsells {
		if u.Enabled {
			out = append(out, u)
		}
	}
	return out
}

// EmbeddedOffer finds an upsell or the downsell by id or slug.
func (p Product) EmbeddedOffer(ref string) (Offer, bool) {
	for _, u := range p.Upsells {
		if u.Matches(ref) {
			return u, true
		}
	}
	if p.Downsell != nil && p.Downsell.Matches(ref) {
		return *p.Downsell, true
	}
	return Offer{}, false
}

// OfferByID finds any offer of the product, main and bump included.
func (p Product) OfferByID(id string) (Offer, bool) {
	if id == MainOfferID || p.Main.Matches(id) {
		return p.Main, true
	}
	if p.Bump != nil && p.Bump.Matches(id) {
		return *p.Bump, true
	}
	return p.EmbeddedOffer(id)
}

// Normalize trims identifiers, upper-cases currencies and fills main offer defaults.
func (p *Product) Normalize() {
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	p.Name = strings.TrimSpace(p.Name)
	if p.Main.ID == "" {
		p.Main.ID = MainOfferID
	}
	if p.Main.Role == "" {
		p.Main.Role = RoleMain
	}
	if p.Main.Name == "" {
		p.Main.Name = p.Name
	}
	normalizeOffer(&p.Main)
	if p.Bump != nil {
		normalizeOffer(p.Bump)
	}
	for i := range p.Upsells {
		normalizeOffer(&p.Upsells[i])
	}
	if p.Downsell != nil {
		normalizeOffer(p.Downsell)
	}
}

func normalizeOffer(o *Offer) {
	o.ID = strings.TrimSpace(o.ID)
	o.Slug = strings.ToLower(strings.TrimSpace(o.Slug))
	o.Name = strings.TrimSpace(o.Name)
	o.Pricing.Currency = money.NormalizeCurrency(o.Pricing.Currency)
}

// Validate checks struct rules, role tags, role-specific fields, identifier
// uniqueness and the single-currency rule.
func (p Product) Validate() error {
	if err := common.Validator().Struct(p); err != nil {
		return common.ValidationError(err)
	}
	var issues []common.Issue
	add := func(field, rule, msg string) {
		issues = append(issues, common.Issue{Field: field, Rule: rule, Message: msg})
	}

	if p.Main.Role != RoleMain {
		add("main.role", "role", "main offer must have role main")
	}
	if !ValidOfferID(p.Main.ID) {
		add("main.id", "offerid", "offer id may only contain letters, digits, dots, dashes and underscores")
	}
	seen := map[string]string{p.Main.ID: "main"}
	check := func(field string, o Offer, role Role) {
		if err := common.Validator().Struct(o); err != nil {
			for _, is := range common.Issues(err) {
				add(field+"."+is.Field, is.Rule, is.Message)
			}
			return
		}
		if !ValidOfferID(o.ID) {
			add(field+".id", "offerid", "offer id may only contain letters, digits, dots, dashes and underscores")
		}
		if o.Role != role {
			add(field+".role", "role", fmt.Sprintf("%s must have role %s", field, role))
		}
		switch role {
		case RoleBump:
			if strings.TrimSpace(o.CheckboxLabel) == "" {
				add(field+".checkboxLabel", "required", "checkboxLabel is required for an order bump")
			}
		case RoleUpsell, RoleDownsell:
			if strings.TrimSpace(o.Headline) == "" {
				add(field+".headline", "required", "headline is required for "+string(role)+" offers")
			}
		}
		if prev, ok := seen[o.ID]; ok {
			add(field+".id", "unique", fmt.Sprintf("offer id %q already used by %s", o.ID, prev))
		}
		seen[o.ID] = field
		if o.Pricing.Currency != p.Currency() {
			add(field+".pricing.currency", "currency", ErrMixedCurrency.Error())
		}
	}
	if p.Bump != nil {
		check("orderBump", *p.Bump, RoleBump)
	}
	for i, u := range p.Upsells {
		check(fmt.Sprintf("upsells[%d]", i), u, RoleUpsell)
	}
	if p.Downsell != nil {
		check("downsell", *p.Downsell, RoleDownsell)
	}
	if !money.Supported(p.Currency()) {
		add("main.pricing.currency", "currency", "currency is not supported")
	}
	if len(issues) > 0 {
		appErr := common.ValidationError(errors.New("invalid product configuration"))
		appErr.Details = issues
		return appErr
	}
	return nil
}
