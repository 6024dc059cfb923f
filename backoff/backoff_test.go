package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/loom/backoff"
)

func TestDelayCurves(t *testing.T) {
	tests := []struct {
		name     string
		strategy backoff.Strategy
		attempt  int
		want     time.Duration
	}{
		{"constant ignores attempt", backoff.NewConstant(5 * time.Second), 7, 5 * time.Second},
		{"constant zero", backoff.NewConstant(0), 3, 0},
		{"linear first attempt", backoff.NewLinear(time.Second, time.Minute), 1, time.Second},
		{"linear grows", backoff.NewLinear(time.Second, time.Minute), 4, 4 * time.Second},
		{"linear caps", backoff.NewLinear(time.Second, 5*time.Second), 30, 5 * time.Second},
		{"exponential first attempt", backoff.NewExponential(time.Second, time.Hour), 1, time.Second},
		{"exponential doubles", backoff.NewExponential(time.Second, time.Hour), 5, 16 * time.Second},
		{"exponential caps", backoff.NewExponential(time.Second, 10*time.Second), 20, 10 * time.Second},
		{"attempt below one clamps", backoff.NewLinear(time.Second, 0), 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.strategy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExponential_LargeAttemptDoesNotOverflow(t *testing.T) {
	s := backoff.NewExponential(time.Second, 0)
	if got := s.Delay(200); got <= 0 {
		t.Errorf("Delay(200) = %v, want a positive saturated delay", got)
	}
}

func TestJitter_StaysWithinComputedDelay(t *testing.T) {
	s := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			got := s.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, want within [0, 10s]", attempt, got)
			}
		}
	}
}

func TestJitter_Varies(t *testing.T) {
	s := backoff.NewExponentialWithJitter(time.Second, time.Minute)
	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[s.Delay(4)] = true
	}
	if len(seen) < 2 {
		t.Errorf("100 jittered delays produced %d distinct values, want variance", len(seen))
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy() = nil")
	}
	if d := s.Delay(1); d < 0 || d > time.Second {
		t.Errorf("Delay(1) = %v, want within [0, 1s]", d)
	}
}
