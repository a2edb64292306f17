package executor

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialJitter returns a random delay in
// [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter only
}

// Constant always waits Interval.
type Constant time.Duration

func (c Constant) Delay(int) time.Duration {
	return time.Duration(c)
}
