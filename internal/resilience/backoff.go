package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponentially growing delays with optional jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0.0 to 1.0
}

// DefaultBackoff grows by half each attempt and caps at 30 seconds.
func DefaultBackoff(initial time.Duration) Backoff {
	return Backoff{
		Initial:    initial,
		Max:        30 * time.Second,
		Multiplier: 1.5,
	}
}

// Delay returns the wait before the given 1-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Initial <= 0 {
		return 0
	}
	max := b.Max
	if max < b.Initial {
		max = b.Initial
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}

	// delay * (1 +/- jitter)
	if b.Jitter > 0 {
		spread := delay * b.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	return time.Duration(delay)
}
