// Package actuator performs the single action taken on one listing item.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chr1sbest/autoinvite/internal/page"
	"github.com/chr1sbest/autoinvite/internal/pacing"
)

// ActionKind names which action was taken.
type ActionKind string

const (
	Primary   ActionKind = "primary"
	Secondary ActionKind = "secondary"
)

// Rule is one candidate action. Rules are tried in priority order.
type Rule struct {
	Kind     ActionKind
	Selector string
}

// DefaultRules invites when possible and otherwise skips.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: Primary, Selector: ".Invite"},
		{Kind: Secondary, Selector: ".Skip"},
	}
}

// OutcomeKind classifies an Act call.
type OutcomeKind int

const (
	Invited OutcomeKind = iota
	Skipped
	NoApplicableAction
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Invited:
		return "invited"
	case Skipped:
		return "skipped"
	case NoApplicableAction:
		return "no applicable action"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of acting on one item.
type Outcome struct {
	Kind OutcomeKind
	// Err is set for Failed.
	Err error
}

// Recorder receives successful actions.
type Recorder interface {
	RecordAction(kind ActionKind)
}

// Waiter suspends between actions. Implementations may apply control
// commands while waiting; a false return means the wait was cut short.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) bool
}

// Actuator applies the first applicable rule to an item.
type Actuator struct {
	rules    []Rule
	pacing   *pacing.Policy
	recorder Recorder
	waiter   Waiter
}

// New creates an actuator.
func New(rules []Rule, policy *pacing.Policy, recorder Recorder, waiter Waiter) *Actuator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Actuator{rules: rules, pacing: policy, recorder: recorder, waiter: waiter}
}

// Rules returns the rules in priority order.
func (a *Actuator) Rules() []Rule {
	out := make([]Rule, len(a.rules))
	copy(out, a.rules)
	return out
}

// Act performs at most one activation on it. Errors and panics are returned
// as a Failed outcome.
func (a *Actuator) Act(ctx context.Context, it page.Item) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(fmt.Errorf("panic: %v", r))
		}
	}()

	rule, control, err := a.applicable(ctx, it)
	if err != nil {
		return failed(err)
	}
	if control == nil {
		return Outcome{Kind: NoApplicableAction}
	}

	if err := control.Activate(ctx); err != nil {
		return failed(fmt.Errorf("%s %s: %w", rule.Kind, rule.Selector, err))
	}
	if a.recorder != nil {
		a.recorder.RecordAction(rule.Kind)
	}

	if a.waiter != nil && a.pacing != nil {
		a.waiter.Wait(ctx, a.pacing.NextDelay())
	}

	if rule.Kind == Primary {
		return Outcome{Kind: Invited}
	}
	return Outcome{Kind: Skipped}
}

func (a *Actuator) applicable(ctx context.Context, it page.Item) (Rule, page.Control, error) {
	for _, rule := range a.rules {
		c, err := it.Control(ctx, rule.Selector)
		if err != nil {
			return rule, nil, fmt.Errorf("find %s: %w", rule.Selector, err)
		}
		if c == nil {
			continue
		}
		st, err := c.State(ctx)
		if err != nil {
			return rule, nil, fmt.Errorf("inspect %s: %w", rule.Selector, err)
		}
		if st.Actionable() {
			return rule, c, nil
		}
	}
	return Rule{}, nil, nil
}

// ErrProcessItem prefixes every item failure.
var ErrProcessItem = errors.New("processItem")

func failed(err error) Outcome {
	return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", ErrProcessItem, err)}
}
