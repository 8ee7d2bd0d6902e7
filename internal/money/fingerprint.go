package money

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
)

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 16

// CartState is the request-scoped snapshot of what a buyer is about to purchase.
type CartState struct {
	ProductID    string   `json:"productId"`
	PlanID       string   `json:"planId,omitempty"`
	OrderBumpIDs []string `json:"orderBumpIds,omitempty"`
	CouponCode   string   `json:"couponCode,omitempty"`
	Country      string   `json:"country"`
	Email        string   `json:"email,omitempty"`
	VATNumber    string   `json:"vatNumber,omitempty"`
}

type canonicalCart struct {
	ProductID    string   `json:"p"`
	PlanID       string   `json:"pl"`
	OrderBumpIDs []string `json:"b"`
	CouponCode   string   `json:"c"`
	Country      string   `json:"co"`
	Email        string   `json:"e"`
	VATNumber    string   `json:"v"`
}

// CartFingerprint hashes a canonical form of the cart. Bump ids are treated as
// a set, the coupon code and country are case-insensitive and the email is
// compared lower-cased.
func CartFingerprint(cart CartState) string {
	bumps := make([]string, 0, len(cart.OrderBumpIDs))
	for _, id := range cart.OrderBumpIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			bumps = append(bumps, trimmed)
		}
	}
	slices.Sort(bumps)
	bumps = slices.Compact(bumps)

	canon := canonicalCart{
		ProductID:    strings.TrimSpace(cart.ProductID),
		PlanID:       strings.TrimSpace(cart.PlanID),
		OrderBumpIDs: bumps,
		CouponCode:   strings.ToUpper(strings.TrimSpace(cart.CouponCode)),
		Country:      strings.ToUpper(strings.TrimSpace(cart.Country)),
		Email:        strings.ToLower(strings.TrimSpace(cart.Email)),
		VATNumber:    NormalizeVATNumber(cart.VATNumber),
	}
	raw, _ := json.Marshal(canon)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
