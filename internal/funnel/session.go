package funnel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const productClaim = "product"

// ErrSessionMismatch is returned when a valid session names another buyer or product.
var ErrSessionMismatch = errors.New("funnel: session does not match request")

// SessionSigner issues HS256 funnel session tokens binding a buyer payment
// identity to a product for a limited time.
type SessionSigner struct {
	Key    []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

// Issue implements payment.SessionTokens.
func (s SessionSigner) Issue(customerID, productSlug string) (string, error) {
	if len(s.Key) == 0 {
		return "", errors.New("funnel: session key not configured")
	}
	now := s.now()
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer()).
		Subject(customerID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(productClaim, productSlug).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.Key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// Verify implements payment.SessionTokens.
func (s SessionSigner) Verify(raw, customerID, productSlug string) error {
	tok, err := jwt.ParseString(strings.TrimSpace(raw), jwt.WithKey(jwa.HS256, s.Key), jwt.WithValidate(false))
	if err != nil {
		return fmt.Errorf("funnel: parse session: %w", err)
	}
	err = jwt.Validate(tok,
		jwt.WithClock(jwt.ClockFunc(s.now)),
		jwt.WithIssuer(s.issuer()),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("funnel: validate session: %w", err)
	}
	if tok.Subject() != customerID {
		return ErrSessionMismatch
	}
	claim, ok := tok.Get(productClaim)
	if !ok {
		return ErrSessionMismatch
	}
	if slug, _ := claim.(string); !strings.EqualFold(slug, productSlug) {
		return ErrSessionMismatch
	}
	return nil
}

func (s SessionSigner) issuer() string {
	if s.Issuer != "" {
		return s.Issuer
	}
	return "funnel-api"
}

func (s SessionSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
