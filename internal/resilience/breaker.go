// Package resilience guards calls to the payment processor so an outage there
// fails fast instead of stalling every checkout request.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned without calling the dependency while the breaker
// refuses traffic.
var ErrOpenCircuit = errors.New("resilience: circuit open")

// State is the breaker position.
type State int8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Counts tallies outcomes observed while closed.
type Counts struct {
	Requests int
	Failures int
}

func (c Counts) failureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

// Breaker trips once at least minRequests outcomes have been seen and the
// failure share reaches the ratio. After the cool-down exactly one probe call
// is let through; its outcome closes or re-opens the circuit.
type Breaker struct {
	mu       sync.Mutex
	minReq   int
	ratio    float64
	cooldown time.Duration

	state    State
	counts   Counts
	reopenAt time.Time
	probing  bool

	target string
	log    zerolog.Logger
	now    func() time.Time
}

// NewBreaker builds a closed breaker. Out of range arguments fall back to one
// request, a 0.5 ratio and a 30s cool-down.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests < 1 {
		minRequests = 1
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minReq:   minRequests,
		ratio:    failureRatio,
		cooldown: openFor,
		target:   "default",
		log:      zerolog.Nop(),
		now:      time.Now,
	}
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := strings.TrimSpace(target); t != "" {
		b.target = t
	}
	publishState(b.target, b.state)
	return b
}

// WithLogger sets the logger used for transitions when the context has none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = logger
	return b
}

// WithClock replaces time.Now, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// Allow reports whether a call may proceed. A refused call is counted in the
// rejection metric.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Before(b.reopenAt) {
			rejected(b.target)
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			rejected(b.target)
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Report feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.counts.Requests++
	if !success {
		b.counts.Failures++
	}
	if b.counts.Requests < b.minReq {
		return
	}
	if b.counts.failureRatio() >= b.ratio {
		b.moveLocked(ctx, Open)
		return
	}
	// Halve the window once it is twice the minimum so old successes fade.
	if b.counts.Requests >= 2*b.minReq {
		b.counts.Requests = (b.counts.Requests + 1) / 2
		b.counts.Failures = (b.counts.Failures + 1) / 2
	}
}

// Do runs fn through the breaker. isFailure picks which errors count against
// the dependency; nil counts every error.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error, isFailure func(error) bool) error {
	if !b.Allow(ctx) {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	b.Report(ctx, !failed)
	return err
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns the closed-window tally.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.counts = Counts{}
	switch next {
	case Open:
		b.reopenAt = b.now().Add(b.cooldown)
	case Closed:
		b.reopenAt = time.Time{}
	}
	publishState(b.target, next)
	transitioned(b.target, prev, next)

	logger := b.log
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Warn()
	if next == Closed {
		evt = logger.Info()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Str("target", b.target).Str("from", prev.String()).Str("to", next.String()).Msg("circuit breaker transition")
}
