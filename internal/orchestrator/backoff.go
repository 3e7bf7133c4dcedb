package orchestrator

import (
	"math"
	"time"
)

// Backoff computes the delay before a step retry.
type Backoff interface {
	// Delay returns how long to wait before retry n (1-indexed).
	Delay(attempt int) time.Duration
}

// ConstantBackoff always waits the same interval.
type ConstantBackoff struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c ConstantBackoff) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialBackoff doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// DefaultBackoff is used when retries are enabled without a strategy.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{Initial: 2 * time.Second, Max: 30 * time.Second}
}
