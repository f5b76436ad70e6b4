package job

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes the delay before a failed job's next attempt.
// Exponential growth with a cap and a random jitter fraction so retry
// storms from a marketplace outage spread out instead of thundering.
type BackoffPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of the delay, 0..1
}

// DefaultBackoffPolicy matches the retry cadence used for marketplace calls:
// 30s, 1m, 2m, 4m ... capped at 30m, +/-20% jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:   30 * time.Second,
		Cap:    30 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay returns the backoff delay for the given attempt number (1-based).
// The returned delay is always positive so next_run_at strictly increases.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	capped := p.Cap
	if capped <= 0 {
		capped = 30 * time.Minute
	}

	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(capped) {
		exp = float64(capped)
	}

	delay := time.Duration(exp)
	if p.Jitter > 0 {
		// rand.Float64 in [0,1); spread is delay*jitter centered on delay.
		spread := float64(delay) * p.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}

	if delay < time.Second {
		delay = time.Second
	}
	return delay
}
