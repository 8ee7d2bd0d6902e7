package security

import (
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/common"
)

// AdminKeyHeader carries the operator API key on admin routes.
const AdminKeyHeader = "X-Admin-Key"

// APIKey guards routes with a single operator key stored as an argon2id hash.
type APIKey struct {
	Hash   string
	Logger zerolog.Logger
}

// Middleware rejects requests without a key matching Hash. An empty Hash
// disables the guarded routes.
func (k APIKey) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(k.Hash) == "" {
			common.JSONError(w, http.StatusForbidden, "ADMIN_DISABLED", "admin access is not configured", nil)
			return
		}
		key := strings.TrimSpace(r.Header.Get(AdminKeyHeader))
		if key == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required", nil)
			return
		}
		ok, err := argon2id.ComparePasswordAndHash(key, k.Hash)
		if err != nil {
			k.Logger.Error().Err(err).Msg("admin key hash is malformed")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong, please try again", nil)
			return
		}
		if !ok {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashAPIKey produces the argon2id hash to configure for key.
func HashAPIKey(key string) (string, error) {
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}
