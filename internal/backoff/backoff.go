// Package backoff computes redispatch delays for failed enrichment jobs.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay. A zero interval retries immediately.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt:
// Delay = min(Initial * 2^(attempt-1), Max), optionally reduced by up to
// Jitter (a fraction in [0,1]) to spread retries of jobs that failed together.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter > 0 {
		d -= d * e.Jitter * rand.Float64() //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}
