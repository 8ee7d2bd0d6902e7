package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Hour}, mr
}

func chargeRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/charge-upsell", strings.NewReader(`{"customerId":"cus_1"}`))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func TestIdemReplaysFirstResponse(t *testing.T) {
	idem, _ := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		JSON(w, http.StatusOK, map[string]any{"success": true, "call": n})
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, chargeRequest("click-1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, chargeRequest("click-1"))

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdemReplaysDeclines(t *testing.T) {
	idem, _ := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Your card was declined."})
	}))
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, chargeRequest("click-2"))
		require.Equal(t, http.StatusBadRequest, rr.Code)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdemForgetsServerErrors(t *testing.T) {
	idem, _ := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		JSONError(w, http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", "try again", nil)
	}))
	h.ServeHTTP(httptest.NewRecorder(), chargeRequest("click-3"))
	h.ServeHTTP(httptest.NewRecorder(), chargeRequest("click-3"))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdemInFlightDuplicateConflicts(t *testing.T) {
	idem, mr := newIdem(t)
	require.NoError(t, mr.Set(hashKey("POST /api/charge-upsell", "click-4"), idemLocked))
	h := idem.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an in-flight duplicate")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chargeRequest("click-4"))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
}

func TestIdemWithoutKeyPassesThrough(t *testing.T) {
	idem, mr := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), chargeRequest(""))
	h.ServeHTTP(httptest.NewRecorder(), chargeRequest(""))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Empty(t, mr.Keys())
}

func TestIdemKeysAreScopedByPath(t *testing.T) {
	idem, _ := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
	}))
	a := httptest.NewRecorder()
	h.ServeHTTP(a, chargeRequest("same"))
	other := httptest.NewRequest(http.MethodPost, "/api/create-payment-intent", nil)
	other.Header.Set(IdempotencyHeader, "same")
	b := httptest.NewRecorder()
	h.ServeHTTP(b, other.WithContext(context.Background()))
	require.Contains(t, b.Body.String(), "/api/create-payment-intent")
	require.Empty(t, b.Header().Get("Idempotent-Replayed"))
}
