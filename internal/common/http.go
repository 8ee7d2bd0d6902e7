package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IdempotencyHeader carries the client supplied replay key on POST routes.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyKey returns the trimmed Idempotency-Key header, or fallback when
// the header is absent.
func IdempotencyKey(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// ClientIP returns the caller address. chi's RealIP middleware has usually
// rewritten RemoteAddr already; forwarding headers are consulted otherwise.
// The result is normalised so IPv4-mapped IPv6 addresses share a key with IPv4.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	candidates := []string{hostOnly(r.RemoteAddr)}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		candidates = append(candidates, first)
	}
	candidates = append(candidates, r.Header.Get("X-Real-IP"))
	for _, c := range candidates {
		if addr, err := netip.ParseAddr(strings.TrimSpace(c)); err == nil {
			return addr.Unmap().String()
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return addr
	}
	return host
}
