// Package backoff computes the wait between retry attempts of a failed
// step. A Strategy is attached to a step at definition time and consulted
// by the interpreter before each re-execution; strategies hold no mutable
// state, so one value can back any number of concurrent runs.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n. Attempts are
// 1-indexed: attempt 1 is the first re-execution after the initial
// failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// strategy couples a base-delay curve with an optional cap and full
// jitter. All the exported constructors build one of these.
type strategy struct {
	curve  func(attempt int) time.Duration
	cap    time.Duration
	jitter bool
}

func (s *strategy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.curve(attempt)
	if s.cap > 0 && d > s.cap {
		d = s.cap
	}
	if s.jitter && d > 0 {
		d = rand.N(d + 1)
	}
	return d
}

// NewConstant waits the same interval before every attempt.
func NewConstant(interval time.Duration) Strategy {
	return &strategy{
		curve: func(int) time.Duration { return interval },
	}
}

// NewLinear waits initial*attempt, capped at maxDelay. A zero maxDelay
// means no cap.
func NewLinear(initial, maxDelay time.Duration) Strategy {
	return &strategy{
		curve: func(attempt int) time.Duration {
			return initial * time.Duration(attempt)
		},
		cap: maxDelay,
	}
}

// NewExponential doubles the delay each attempt starting from initial,
// capped at maxDelay. A zero maxDelay means no cap.
func NewExponential(initial, maxDelay time.Duration) Strategy {
	return &strategy{curve: doubling(initial), cap: maxDelay}
}

// NewExponentialWithJitter is NewExponential with full jitter: the actual
// delay is uniform in [0, computed delay]. Jitter spreads out retries
// when many items of a foreach or parallel block fail together.
func NewExponentialWithJitter(initial, maxDelay time.Duration) Strategy {
	return &strategy{curve: doubling(initial), cap: maxDelay, jitter: true}
}

// doubling returns the initial*2^(attempt-1) curve, saturating instead of
// overflowing for large attempt counts.
func doubling(initial time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d <= 0 {
				return math.MaxInt64 / 2
			}
		}
		return d
	}
}

// DefaultStrategy is the step-retry default: full-jitter exponential
// starting at one second, capped at one minute.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(time.Second, time.Minute)
}
