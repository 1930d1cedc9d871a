// Package anomaly inspects the current page for conditions that require a
// human, such as a verification challenge. Detection never mutates the page.
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chr1sbest/autoinvite/internal/page"
)

// KindVerificationChallenge is a visible human-verification widget.
const KindVerificationChallenge = "verification-challenge"

// DefaultChallengeSelector matches the challenge container on the target site.
const DefaultChallengeSelector = ".captcha-container"

// Anomaly is a detected condition.
type Anomaly struct {
	Kind       string
	Selector   string
	DetectedAt time.Time
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s (%s)", a.Kind, a.Selector)
}

// Detector reports the first anomaly visible on the page, or nil.
type Detector interface {
	Detect(ctx context.Context, p page.Page) (*Anomaly, error)
}

// Rule maps a selector to an anomaly kind.
type Rule struct {
	Kind     string
	Selector string
}

// SelectorDetector checks rules in order; the first whose element is present
// and visible wins.
type SelectorDetector struct {
	rules []Rule
	now   func() time.Time
}

// NewSelectorDetector creates a detector over the given rules.
func NewSelectorDetector(rules ...Rule) *SelectorDetector {
	return &SelectorDetector{rules: rules, now: time.Now}
}

// Default returns a detector for the built-in verification challenge.
func Default() *SelectorDetector {
	return NewSelectorDetector(Rule{Kind: KindVerificationChallenge, Selector: DefaultChallengeSelector})
}

// Rules returns the configured rules in evaluation order.
func (d *SelectorDetector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Detect implements Detector.
func (d *SelectorDetector) Detect(ctx context.Context, p page.Page) (*Anomaly, error) {
	for _, r := range d.rules {
		c, err := p.Find(ctx, r.Selector)
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", r.Kind, err)
		}
		if c == nil {
			continue
		}
		st, err := c.State(ctx)
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", r.Kind, err)
		}
		if st.Present && st.Visible {
			return &Anomaly{Kind: r.Kind, Selector: r.Selector, DetectedAt: d.now()}, nil
		}
	}
	return nil, nil
}

// DetectorFactory builds a detector for a configured selector.
type DetectorFactory func(selector string) Detector

// Registry maps anomaly kinds to detector factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]DetectorFactory
}

// NewRegistry creates a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]DetectorFactory)}
	r.Register(KindVerificationChallenge, selectorFactory(KindVerificationChallenge))
	return r
}

func selectorFactory(kind string) DetectorFactory {
	return func(selector string) Detector {
		return NewSelectorDetector(Rule{Kind: kind, Selector: selector})
	}
}

// Register adds a factory for a kind.
func (r *Registry) Register(kind string, factory DetectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Get builds a detector for kind. Unregistered kinds fall back to a plain
// selector detector so config can introduce new kinds.
func (r *Registry) Get(kind, selector string) Detector {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		factory = selectorFactory(kind)
	}
	return factory(selector)
}

// RegisteredKinds returns registered kinds, sorted.
func (r *Registry) RegisteredKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build returns a detector running every rule in order.
func (r *Registry) Build(rules []Rule) Detector {
	if len(rules) == 0 {
		return Default()
	}
	chain := make(Chain, 0, len(rules))
	for _, rule := range rules {
		chain = append(chain, r.Get(rule.Kind, rule.Selector))
	}
	return chain
}

// Chain runs detectors in order and returns the first positive.
type Chain []Detector

// Detect implements Detector.
func (c Chain) Detect(ctx context.Context, p page.Page) (*Anomaly, error) {
	for _, d := range c {
		a, err := d.Detect(ctx, p)
		if err != nil || a != nil {
			return a, err
		}
	}
	return nil, nil
}
