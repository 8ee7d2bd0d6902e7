package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"

	"github.com/noah-isme/funnel-api/internal/common"
)

// Headers sets the response hardening headers. Funnel responses are JSON or
// redirects, so the content policy denies everything.
type Headers struct {
	Enable     bool
	EnableHSTS bool
	// HSTSMaxAge defaults to one year.
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
}

var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(self)"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// Middleware attaches the headers. HSTS is only sent on HTTPS requests,
// including ones terminated at a proxy that sets X-Forwarded-Proto.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := ""
	if h.EnableHSTS {
		maxAge := h.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 365 * 24 * time.Hour
		}
		hsts = "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
		if h.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for _, kv := range baseHeaders {
			headers.Set(kv[0], kv[1])
		}
		if hsts != "" && isHTTPS(r) {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// CORS returns middleware allowing the checkout front-ends listed in
// originsCSV. A "*" entry allows any origin without credentials.
func CORS(originsCSV string) func(http.Handler) http.Handler {
	var origins []string
	wildcard := false
	for _, origin := range strings.Split(originsCSV, ",") {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			wildcard = true
		}
		origins = append(origins, trimmed)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", common.IdempotencyHeader, "X-Request-ID", AdminKeyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed", "Retry-After"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
