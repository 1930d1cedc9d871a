package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the position of a breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// ErrCircuitOpen is returned instead of calling a dependency whose breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes a breaker.
type CircuitBreakerConfig struct {
	// Threshold is how many failures in a row open the breaker.
	Threshold int
	// ResetAfter is how long an open breaker refuses calls before letting
	// one probe through.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig opens after five straight failures and probes
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 5, ResetAfter: 30 * time.Second}
}

// CircuitBreaker stops calling a dependency that keeps failing. While open
// every call fails fast with ErrCircuitOpen; once ResetAfter has passed a
// single probe call is let through and its result closes or reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int
	retryAt  time.Time
	probing  bool
	listener func(from, to CircuitState)
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to be told about every transition. fn is called
// after the breaker's lock is released, on the goroutine that caused the
// change.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.listener = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute calls fn unless the breaker refuses it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, notify, ok := cb.admit()
	notify()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.settle(probe, err)()
	return err
}

// admit decides whether a call may proceed and whether it is the probe.
func (cb *CircuitBreaker) admit() (probe bool, notify func(), ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, noop, true
	case CircuitOpen:
		if cb.now().Before(cb.retryAt) {
			return false, noop, false
		}
		notify = cb.moveTo(CircuitHalfOpen)
		cb.probing = true
		return true, notify, true
	default:
		// Half-open: only the probe already in flight is allowed.
		if cb.probing {
			return false, noop, false
		}
		cb.probing = true
		return true, noop, true
	}
}

func (cb *CircuitBreaker) settle(probe bool, err error) func() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if err == nil {
		cb.streak = 0
		return cb.moveTo(CircuitClosed)
	}
	cb.streak++
	if probe || cb.streak >= cb.cfg.Threshold {
		cb.retryAt = cb.now().Add(cb.cfg.ResetAfter)
		return cb.moveTo(CircuitOpen)
	}
	return noop
}

// moveTo changes state under the lock and returns the deferred notification.
func (cb *CircuitBreaker) moveTo(to CircuitState) func() {
	from := cb.state
	if from == to {
		return noop
	}
	cb.state = to
	if fn := cb.listener; fn != nil {
		return func() { fn(from, to) }
	}
	return noop
}

func noop() {}

// Reset closes the breaker and forgets the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.streak = 0
	cb.probing = false
	cb.retryAt = time.Time{}
	notify := cb.moveTo(CircuitClosed)
	cb.mu.Unlock()
	notify()
}

// CircuitBreakerRegistry keeps one breaker per name.
type CircuitBreakerRegistry struct {
	defaults CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{defaults: defaults, breakers: map[string]*CircuitBreaker{}}
}

// Get returns the breaker for name. The first call creates it from cfg, or
// from the registry defaults when cfg is nil.
func (r *CircuitBreakerRegistry) Get(name string, cfg *CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb := r.breakers[name]
	if cb == nil {
		c := r.defaults
		if cfg != nil {
			c = *cfg
		}
		cb = NewCircuitBreaker(c)
		r.breakers[name] = cb
	}
	return cb
}

// State reports the state of name's breaker and whether it exists.
func (r *CircuitBreakerRegistry) State(name string) (CircuitState, bool) {
	r.mu.Lock()
	cb := r.breakers[name]
	r.mu.Unlock()
	if cb == nil {
		return CircuitClosed, false
	}
	return cb.State(), true
}

// ResetAll closes every breaker.
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.Lock()
	all := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		all = append(all, cb)
	}
	r.mu.Unlock()

	for _, cb := range all {
		cb.Reset()
	}
}
