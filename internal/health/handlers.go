// Package health serves liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/resilience"
)

var draining atomic.Bool

// SetReady flips readiness. The server marks itself not ready before draining.
func SetReady(v bool) { draining.Store(!v) }

// Probe checks one dependency. A failing Optional probe is reported but does
// not fail readiness.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(ctx context.Context) error
}

// Postgres probes the product store.
func Postgres(pool *pgxpool.Pool, timeout time.Duration) Probe {
	return Probe{Name: "postgres", Timeout: timeout, Check: func(ctx context.Context) error {
		return pool.Ping(ctx)
	}}
}

// Redis probes the cache, lock and rate limit store.
func Redis(client *redis.Client, timeout time.Duration) Probe {
	return Probe{Name: "redis", Timeout: timeout, Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Breaker reports an open processor circuit. Checkout pages still render while
// it is open so the probe is optional.
func Breaker(name string, b *resilience.Breaker) Probe {
	return Probe{Name: name, Optional: true, Check: func(context.Context) error {
		if b.State() == resilience.Open {
			return resilience.ErrOpenCircuit
		}
		return nil
	}}
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler exposes the health endpoints.
type Handler struct {
	Probes []Probe
	Logger zerolog.Logger
}

// Live always answers ok while the process serves HTTP.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "draining", Checks: map[string]string{}})
		return
	}
	report := h.Check(r.Context())
	code := http.StatusOK
	if report.Status != "ok" && report.Status != "degraded" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, report)
}

// Check runs the probes and summarises them as ok, degraded or unavailable.
func (h Handler) Check(ctx context.Context) Report {
	results := make([]error, len(h.Probes))
	var wg sync.WaitGroup
	for i, p := range h.Probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runProbe(ctx, p)
		}()
	}
	wg.Wait()

	report := Report{Status: "ok", Checks: make(map[string]string, len(h.Probes))}
	if len(h.Probes) == 0 {
		report.Status = "unavailable"
	}
	names := make([]string, 0, len(h.Probes))
	for i, p := range h.Probes {
		err := results[i]
		if err == nil {
			report.Checks[p.Name] = "ok"
			continue
		}
		report.Checks[p.Name] = err.Error()
		names = append(names, p.Name)
		switch {
		case !p.Optional:
			report.Status = "unavailable"
		case report.Status == "ok":
			report.Status = "degraded"
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		h.Logger.Warn().Strs("failing", names).Str("status", report.Status).Msg("readiness check failed")
	}
	return report
}

func runProbe(ctx context.Context, p Probe) error {
	if p.Check == nil {
		return errNoCheck
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}

type probeError string

func (e probeError) Error() string { return string(e) }

const errNoCheck = probeError("not configured")
