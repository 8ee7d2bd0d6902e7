package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/funnel-api/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("funnel", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	samples := testutil.CollectAndCount(metrics.ReqDur)
	if samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestHTTPMetricsUseRoutePatternNotSlug(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("funnel", nil, registry)
	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/funnel/{slug}/upsell/{n}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/funnel/course/upsell/1", "/funnel/ebook/upsell/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/funnel/{slug}/upsell/{n}", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.StepTotal.WithLabelValues("upsell_1", http.MethodGet, "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.StepTotal.WithLabelValues("upsell_2", http.MethodGet, "2xx")))
}

func TestStepMetricBoundsUpsellIndex(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("funnel", nil, registry)
	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/funnel/{slug}/upsell/{n}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusFound) })
	r.Get("/funnel/{slug}/thank-you", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, path := range []string{"/funnel/course/upsell/999", "/funnel/course/upsell/abc", "/funnel/course/thank-you"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.StepTotal.WithLabelValues("upsell_other", http.MethodGet, "3xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.StepTotal.WithLabelValues("thank_you", http.MethodGet, "2xx")))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("funnel", nil, registry)
	second := obs.NewHTTPMetrics("funnel", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerAddsFunnelLabels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/funnel/{slug}/upsell/{n}/accept", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/funnel/course/upsell/2/accept", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http_request", line["message"])
	require.Equal(t, "/funnel/{slug}/upsell/{n}/accept", line["route"])
	require.Equal(t, "course", line["product_slug"])
	require.Equal(t, "upsell_2", line["funnel_step"])
	require.EqualValues(t, 400, line["status"])
	require.Equal(t, "warn", line["level"])
}

func TestRequestLoggerSkipsProbesAndMarksReplays(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: zerolog.New(&buf), SkipPaths: []string{"/health/*", "/metrics"}}.Middleware)
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/api/charge-upsell", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Zero(t, buf.Len())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/charge-upsell", nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, true, line["replayed"])
	require.Equal(t, "info", line["level"])
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := obs.NewStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusFound)
	rec.WriteHeader(http.StatusOK)
	n, err := rec.Write([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, rec.Status())
	require.EqualValues(t, n, rec.BytesWritten())
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV(" "))
	require.Equal(t, []float64{5, 250.5}, obs.ParseBucketsCSV("5, x, -1, 0, 250.5"))
}

func TestObserveSinceIgnoresNilVec(t *testing.T) {
	require.NotPanics(t, func() { obs.ObserveSince(nil, time.Now(), "sandbox", "create_intent", "ok") })
}
