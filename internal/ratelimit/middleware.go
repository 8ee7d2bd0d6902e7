package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/funnel-api/internal/common"
)

// Limiter decides whether one more event for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	// Scope prefixes keys so separate routes keep separate budgets.
	Scope  string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
// Limiter failures let the request through.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if h.Config.Scope != "" {
			key = h.Config.Scope + ":" + key
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please slow down", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ByIP keys requests by client address.
func ByIP(r *http.Request) string {
	return common.ClientIP(r)
}

// ByQueryOrIP keys requests by a query parameter, falling back to the client
// address when it is absent.
func ByQueryOrIP(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.URL.Query().Get(param)); v != "" {
			return param + ":" + v
		}
		return ByIP(r)
	}
}

const maxPeekBytes = 64 << 10

// ByJSONFieldOrIP keys requests by a top-level string field of the JSON body.
// The body is restored for the next handler.
func ByJSONFieldOrIP(field string) func(*http.Request) string {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ByIP(r)
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ByIP(r)
		}
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			return ByIP(r)
		}
		if v, ok := fields[field].(string); ok && strings.TrimSpace(v) != "" {
			return field + ":" + strings.TrimSpace(v)
		}
		return ByIP(r)
	}
}
