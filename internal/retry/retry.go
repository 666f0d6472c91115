// Package retry implements the pure backoff policy for send jobs:
// exponential with jitter, clamped to a ceiling, with per-error-class
// overrides.
package retry

import (
	"math"
	"math/rand"
	"time"

	"outreach-control/internal/queue"
)

// Policy computes retry schedules. The zero value is not usable; use
// DefaultPolicy or construct all fields explicitly.
type Policy struct {
	Base        time.Duration
	Ceiling     time.Duration
	Jitter      float64
	MaxAttempts int

	// rng allows tests to pin jitter; nil uses the global source
	rng *rand.Rand
}

// DefaultPolicy returns the production defaults: 60s base, 1h ceiling,
// ±20% jitter, 8 attempts.
func DefaultPolicy() *Policy {
	return &Policy{
		Base:        60 * time.Second,
		Ceiling:     3600 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 8,
	}
}

// WithRand returns a copy of the policy using a deterministic jitter
// source.
func (p *Policy) WithRand(rng *rand.Rand) *Policy {
	copied := *p
	copied.rng = rng
	return &copied
}

// Terminal reports whether the error class never retries
func Terminal(code queue.SendErrorCode) bool {
	switch code {
	case queue.ErrCodeGmail400, queue.ErrCodeAuth, queue.ErrCodePolicy, queue.ErrCodeGate, queue.ErrCodeNotFound:
		return true
	}
	return false
}

// baseFor returns the first-retry base delay for the error class.
// Rate-limit responses start much further out than generic failures.
func (p *Policy) baseFor(code queue.SendErrorCode) time.Duration {
	if code == queue.ErrCodeGmail429 {
		return 300 * time.Second
	}
	return p.Base
}

// Exhausted reports whether a post-increment attempt count is over
// the retry budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts > p.MaxAttempts
}

// Backoff returns the delay before the given attempt (1-based) and
// whether the job is out of retry budget. Terminal error classes are
// exhausted on the first occurrence regardless of attempt count.
func (p *Policy) Backoff(attempt int, code queue.SendErrorCode) (time.Duration, bool) {
	if Terminal(code) {
		return 0, true
	}
	if p.Exhausted(attempt) {
		return 0, true
	}
	if attempt < 1 {
		attempt = 1
	}

	base := p.baseFor(code)
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > p.Ceiling {
		delay = p.Ceiling
	}

	// Apply jitter of +/- p.Jitter around the computed delay
	if p.Jitter > 0 {
		var u float64
		if p.rng != nil {
			u = p.rng.Float64()
		} else {
			u = rand.Float64()
		}
		factor := 1 + p.Jitter*(2*u-1)
		delay = time.Duration(float64(delay) * factor)
	}

	return delay, false
}
