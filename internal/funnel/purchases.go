// Package funnel implements the checkout, upsell, downsell and thank-you step
// sequence and the URL state threaded between steps.
package funnel

import (
	"slices"
	"strings"

	"github.com/noah-isme/funnel-api/internal/catalog"
)

// Purchases is the ordered set of accepted offer ids. Values are immutable;
// Append returns a new set.
type Purchases struct {
	ids []string
}

// NewPurchases returns the state at checkout entry, holding only the main offer.
func NewPurchases() Purchases {
	return Purchases{ids: []string{catalog.MainOfferID}}
}

// ParsePurchases reads a comma-joined token. Blank or malformed entries are
// dropped, duplicates keep their first position, and an empty token means only
// the main offer was bought.
func ParsePurchases(raw string) Purchases {
	var p Purchases
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if !catalog.ValidOfferID(id) || slices.Contains(p.ids, id) {
			continue
		}
		p.ids = append(p.ids, id)
	}
	if len(p.ids) == 0 {
		return NewPurchases()
	}
	return p
}

// Append returns the set with id added at the end. Ids that are already
// present or could not survive serialisation leave the set unchanged.
func (p Purchases) Append(id string) Purchases {
	id = strings.TrimSpace(id)
	if !catalog.ValidOfferID(id) || p.Contains(id) {
		return p
	}
	return Purchases{ids: append(p.IDs(), id)}
}

// Contains reports whether id has been purchased.
func (p Purchases) Contains(id string) bool {
	for _, existing := range p.IDs() {
		if existing == id {
			return true
		}
	}
	return false
}

// IDs returns a copy of the ids in purchase order.
func (p Purchases) IDs() []string {
	if len(p.ids) == 0 {
		return []string{catalog.MainOfferID}
	}
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Len is the number of purchased offers.
func (p Purchases) Len() int { return len(p.IDs()) }

// String serialises the set for the purchases URL parameter.
func (p Purchases) String() string { return strings.Join(p.IDs(), ",") }
