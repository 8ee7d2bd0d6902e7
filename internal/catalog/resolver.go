package catalog

import (
	"context"
	"errors"
	"strings"
)

// OfferSource tells how an offer was found.
type OfferSource int

const (
	// SourceStandalone is an offer that is itself a product record.
	SourceStandalone OfferSource = iota + 1
	// SourceEmbedded is an upsell or downsell inside the main product.
	SourceEmbedded
)

func (s OfferSource) String() string {
	switch s {
	case SourceStandalone:
		return "standalone"
	case SourceEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// ResolvedOffer is a chargeable offer with the product that owns it.
type ResolvedOffer struct {
	Source OfferSource
	Offer  Offer
	// Product is the main product of the funnel, when it could be loaded.
	Product *Product
}

// Resolver looks up offers for one-click charges.
type Resolver struct {
	Store Store
}

// ResolveOffer finds offerRef as a standalone product first and then inside the
// main product's upsells and downsell. Disabled offers do not resolve. A
// standalone offer priced in another currency than the main product is rejected
// with ErrMixedCurrency.
func (r Resolver) ResolveOffer(ctx context.Context, productSlug, offerRef string) (ResolvedOffer, error) {
	offerRef = strings.TrimSpace(offerRef)
	if offerRef == "" {
		return ResolvedOffer{}, ErrOfferNotFound
	}

	var main *Product
	if slug := strings.TrimSpace(productSlug); slug != "" {
		p, err := r.Store.GetBySlug(ctx, slug)
		switch {
		case err == nil:
			main = &p
		case !errors.Is(err, ErrProductNotFound):
			return ResolvedOffer{}, err
		}
	}

	if !strings.EqualFold(offerRef, productSlug) {
		standalone, err := r.Store.GetBySlug(ctx, offerRef)
		switch {
		case err == nil && standalone.Main.Enabled:
			offer := standalone.Main
			offer.ID = standalone.Slug
			offer.Slug = standalone.Slug
			if main != nil && main.Currency() != offer.Pricing.Currency {
				return ResolvedOffer{}, ErrMixedCurrency
			}
			return ResolvedOffer{Source: SourceStandalone, Offer: offer, Product: main}, nil
		case err != nil && !errors.Is(err, ErrProductNotFound):
			return ResolvedOffer{}, err
		}
	}

	if main != nil {
		if offer, ok := main.EmbeddedOffer(offerRef); ok && offer.Enabled {
			return ResolvedOffer{Source: SourceEmbedded, Offer: offer, Product: main}, nil
		}
	}
	return ResolvedOffer{}, ErrOfferNotFound
}
