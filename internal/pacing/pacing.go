package pacing

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Defaults model a person reading a card before clicking.
const (
	DefaultMin = 1 * time.Second
	DefaultMax = 3 * time.Second
)

// Policy draws delays uniformly from the closed interval [min, max] so that
// actions never land on a fixed cadence.
type Policy struct {
	mu  sync.Mutex
	min time.Duration
	max time.Duration
	rng *rand.Rand
}

// NewPolicy creates a policy with its own random source.
func NewPolicy(min, max time.Duration) (*Policy, error) {
	return NewPolicyWithRand(min, max, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewPolicyWithRand creates a policy drawing from rng. rng must not be shared
// with other goroutines.
func NewPolicyWithRand(min, max time.Duration, rng *rand.Rand) (*Policy, error) {
	if err := checkBounds(min, max); err != nil {
		return nil, err
	}
	return &Policy{min: min, max: max, rng: rng}, nil
}

// Default returns a policy using DefaultMin and DefaultMax.
func Default() *Policy {
	p, _ := NewPolicy(DefaultMin, DefaultMax)
	return p
}

func checkBounds(min, max time.Duration) error {
	if min < 0 || max < 0 {
		return fmt.Errorf("pacing bounds must be non-negative (min=%s, max=%s)", min, max)
	}
	if min > max {
		return fmt.Errorf("pacing min %s exceeds max %s", min, max)
	}
	return nil
}

// NextDelay returns the next delay.
func (p *Policy) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := int64(p.max - p.min)
	if span <= 0 {
		return p.min
	}
	// Int63n is half-open, so widen by one to include max.
	return p.min + time.Duration(p.rng.Int63n(span+1))
}

// Bounds returns the current interval.
func (p *Policy) Bounds() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min, p.max
}

// SetBounds replaces the interval, used when the config file is reloaded.
func (p *Policy) SetBounds(min, max time.Duration) error {
	if err := checkBounds(min, max); err != nil {
		return err
	}
	p.mu.Lock()
	p.min, p.max = min, max
	p.mu.Unlock()
	return nil
}
