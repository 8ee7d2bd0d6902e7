package resilience

import (
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 20

// Backoff returns base doubled for every attempt after the first, spread by
// plus or minus jitter (a fraction of the delay, capped at 1).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := base << shift
	if jitter <= 0 {
		return d
	}
	if jitter > 1 {
		jitter = 1
	}
	spread := time.Duration(float64(d) * jitter)
	if spread <= 0 {
		return d
	}
	return d - spread + rand.N(2*spread+1)
}
