package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPartsKeepsPositions(t *testing.T) {
	require.Equal(t, HashParts("cus_1", "up-1", "", "k"), HashParts(" cus_1 ", "up-1", "", " k"))
	require.NotEqual(t, HashParts("a", "", "b"), HashParts("a", "b", ""))
	require.Len(t, HashParts("x"), 64)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::ffff:203.0.113.9]:4431"
	require.Equal(t, "203.0.113.9", ClientIP(req))

	req.RemoteAddr = "pipe"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	require.Equal(t, "198.51.100.4", ClientIP(req))
}

func TestIdempotencyKeyFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.Equal(t, "body-key", IdempotencyKey(req, " body-key "))
	req.Header.Set(IdempotencyHeader, "hdr")
	require.Equal(t, "hdr", IdempotencyKey(req, "body-key"))
}

func TestWriteErrorShapes(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NotFound("PRODUCT_NOT_FOUND", "Product not found", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"PRODUCT_NOT_FOUND","message":"Product not found"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteError(rr, errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestValidateStructIssues(t *testing.T) {
	type req struct {
		Email   string `json:"email" validate:"required,email"`
		Country string `json:"country" validate:"required,iso3166_1_alpha2"`
	}
	err := ValidateStruct(req{Email: "nope", Country: "XX"})
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	issues := appErr.Details.([]Issue)
	require.Len(t, issues, 2)
	require.Equal(t, Issue{Field: "email", Rule: "email", Message: "email must be a valid email address"}, issues[0])
	require.Equal(t, "country", issues[1].Field)
}

func TestDecodeJSONRequiresBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var dst map[string]any
	err := DecodeJSON(req, &dst)
	require.Equal(t, http.StatusBadRequest, HTTPStatusOf(err))
}
