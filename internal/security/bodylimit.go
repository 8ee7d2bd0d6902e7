package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/funnel-api/internal/common"
)

// BodyLimit caps request bodies. The body is read up front so handlers never
// see a truncated payload; oversized requests get 413 before routing.
type BodyLimit struct {
	Max int64
	// Overrides maps a path prefix to its own cap. The longest prefix wins.
	Overrides map[string]int64
}

func (b BodyLimit) limitFor(path string) int64 {
	limit, matched := b.Max, -1
	for prefix, n := range b.Overrides {
		if strings.HasPrefix(path, prefix) && len(prefix) > matched {
			limit, matched = n, len(prefix)
		}
	}
	return limit
}

// Middleware enforces the caps.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.limitFor(r.URL.Path)
		if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			tooLarge(w, limit)
			return
		}
		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		_ = r.Body.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				tooLarge(w, limit)
				return
			}
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, limit int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", map[string]int64{"maxBytes": limit})
}
