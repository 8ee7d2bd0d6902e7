package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/funnel-api/internal/health"
	"github.com/noah-isme/funnel-api/internal/resilience"
)

func staticProbe(name string, err error) health.Probe {
	return health.Probe{Name: name, Check: func(context.Context) error { return err }}
}

func ready(t *testing.T, h health.Handler) (int, health.Report) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var report health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	return rr.Code, report
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyAllHealthy(t *testing.T) {
	code, report := ready(t, health.Handler{Probes: []health.Probe{staticProbe("postgres", nil), staticProbe("redis", nil)}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", report.Status)
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, report.Checks)
}

func TestReadyRequiredFailure(t *testing.T) {
	code, report := ready(t, health.Handler{Probes: []health.Probe{staticProbe("postgres", errors.New("db down")), staticProbe("redis", nil)}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unavailable", report.Status)
	require.Equal(t, "db down", report.Checks["postgres"])
}

func TestReadyDegradedWhenProcessorCircuitOpen(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("health_test")
	breaker.Report(context.Background(), false)

	code, report := ready(t, health.Handler{Probes: []health.Probe{
		staticProbe("postgres", nil),
		health.Breaker("payment_processor", breaker),
	}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, resilience.ErrOpenCircuit.Error(), report.Checks["payment_processor"])
}

func TestReadyProbeTimeout(t *testing.T) {
	slow := health.Probe{Name: "redis", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	code, report := ready(t, health.Handler{Probes: []health.Probe{slow}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, context.DeadlineExceeded.Error(), report.Checks["redis"])
}

func TestReadyWhileDraining(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	h := health.Handler{Probes: []health.Probe{staticProbe("postgres", nil)}}

	health.SetReady(false)
	code, report := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", report.Status)

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}

func TestRedisProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	report := health.Handler{Probes: []health.Probe{health.Redis(client, 100*time.Millisecond)}}.Check(context.Background())
	require.Equal(t, "ok", report.Status)

	mr.Close()
	report = health.Handler{Probes: []health.Probe{health.Redis(client, 100*time.Millisecond)}}.Check(context.Background())
	require.Equal(t, "unavailable", report.Status)
}
