// Package walker processes one listing page: every item in document order,
// then pagination. It reads the run phase through a Checkpoint but never
// changes it; the controller applies the returned Outcome.
package walker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chr1sbest/autoinvite/internal/actuator"
	"github.com/chr1sbest/autoinvite/internal/anomaly"
	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/pacing"
	"github.com/chr1sbest/autoinvite/internal/page"
	"github.com/chr1sbest/autoinvite/internal/tracing"
)

// OutcomeKind classifies a ProcessPage call.
type OutcomeKind int

const (
	// Continue means the next page was opened.
	Continue OutcomeKind = iota
	// Exhausted means there is no next page.
	Exhausted
	// Blocked means an anomaly needs a human.
	Blocked
	// Failed is a page-level failure worth retrying.
	Failed
	// Interrupted means the phase left Running at a checkpoint.
	Interrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Exhausted:
		return "exhausted"
	case Blocked:
		return "blocked"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of processing one page.
type Outcome struct {
	Kind OutcomeKind
	// NextPage is set for Continue.
	NextPage int
	// Anomaly is set for Blocked.
	Anomaly *anomaly.Anomaly
	// Err is set for Failed.
	Err error
}

// ErrPagination wraps failures to activate the next control.
var ErrPagination = errors.New("pagination")

// Checkpoint exposes the run phase. Both calls may apply pending control
// commands before answering.
type Checkpoint interface {
	// Running reports whether the run is still in the Running phase.
	Running() bool
	// Wait suspends for d and reports whether the run is still Running.
	Wait(ctx context.Context, d time.Duration) bool
}

// Recorder receives per-item results that are not counted as actions.
type Recorder interface {
	RecordItem(index int, out actuator.Outcome)
	RecordError(err error, context string)
}

// Actor acts on one item.
type Actor interface {
	Act(ctx context.Context, it page.Item) actuator.Outcome
}

// Config holds the selectors and timings for a walk.
type Config struct {
	ItemSelector    string
	NextSelector    string
	ItemWaitTimeout time.Duration
	SettleDelay     time.Duration
}

// DefaultConfig mirrors the target site's markup.
func DefaultConfig() Config {
	return Config{
		ItemSelector:    ".candidate-card",
		NextSelector:    ".next-page",
		ItemWaitTimeout: 10 * time.Second,
		SettleDelay:     3 * time.Second,
	}
}

// Walker processes pages.
type Walker struct {
	cfg      Config
	page     page.Page
	actor    Actor
	detector anomaly.Detector
	pacing   *pacing.Policy
	check    Checkpoint
	recorder Recorder
	log      logger.Logger
}

// New creates a walker. detector and recorder may be nil.
func New(cfg Config, p page.Page, actor Actor, detector anomaly.Detector, policy *pacing.Policy, check Checkpoint, recorder Recorder, log logger.Logger) *Walker {
	if log == nil {
		log = logger.NewNop()
	}
	if policy == nil {
		policy = pacing.Default()
	}
	return &Walker{
		cfg:      cfg,
		page:     p,
		actor:    actor,
		detector: detector,
		pacing:   policy,
		check:    check,
		recorder: recorder,
		log:      logger.Component(log, "walker"),
	}
}

// SetConfig replaces selectors and timings; used on config reload between
// pages.
func (w *Walker) SetConfig(cfg Config) {
	w.cfg = cfg
}

// ProcessPage walks the current page, which the caller knows as pageIndex.
func (w *Walker) ProcessPage(ctx context.Context, pageIndex int) (out Outcome) {
	ctx, span := tracing.Start(ctx, "walker.page", tracing.Int("page", pageIndex))
	defer func() {
		span.SetAttributes(tracing.String("outcome", out.Kind.String()))
		span.End(out.Err)
	}()

	if !w.check.Running() {
		return Outcome{Kind: Interrupted}
	}

	if err := w.page.WaitForItems(ctx, w.cfg.ItemSelector, w.cfg.ItemWaitTimeout); err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	if !w.check.Running() {
		return Outcome{Kind: Interrupted}
	}

	items, err := w.page.Items(ctx, w.cfg.ItemSelector)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("list items: %w", err)}
	}
	if len(items) == 0 {
		return Outcome{Kind: Failed, Err: page.ErrNoItems}
	}
	w.log.Debug("processing page", logger.F("page", pageIndex), logger.F("items", len(items)))

	for _, it := range items {
		if !w.check.Running() {
			return Outcome{Kind: Interrupted}
		}
		if a := w.detect(ctx); a != nil {
			span.Event("anomaly", tracing.String("kind", a.Kind))
			return Outcome{Kind: Blocked, Anomaly: a}
		}

		res := w.actor.Act(ctx, it)
		switch res.Kind {
		case actuator.Invited, actuator.Skipped:
		case actuator.Failed:
			w.log.Warn("item failed", logger.F("page", pageIndex), logger.F("item", it.Index()), logger.F("error", res.Err))
			w.recordItem(it.Index(), res)
		default:
			w.recordItem(it.Index(), res)
		}
	}

	return w.paginate(ctx, pageIndex)
}

func (w *Walker) detect(ctx context.Context) *anomaly.Anomaly {
	if w.detector == nil {
		return nil
	}
	a, err := w.detector.Detect(ctx, w.page)
	if err != nil {
		// Inspection has no side effects; a failed probe is logged and the
		// item is still processed.
		w.log.Warn("anomaly check failed", logger.F("error", err))
		if w.recorder != nil {
			w.recorder.RecordError(err, "detectAnomaly")
		}
		return nil
	}
	return a
}

func (w *Walker) recordItem(index int, out actuator.Outcome) {
	if w.recorder != nil {
		w.recorder.RecordItem(index, out)
	}
}

func (w *Walker) paginate(ctx context.Context, pageIndex int) Outcome {
	if !w.check.Wait(ctx, w.pacing.NextDelay()) {
		return Outcome{Kind: Interrupted}
	}

	next, err := w.page.Find(ctx, w.cfg.NextSelector)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", ErrPagination, err)}
	}
	if next == nil {
		return Outcome{Kind: Exhausted}
	}
	st, err := next.State(ctx)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", ErrPagination, err)}
	}
	if !st.Present || !st.Enabled {
		return Outcome{Kind: Exhausted}
	}

	if err := next.Activate(ctx); err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", ErrPagination, err)}
	}
	w.log.Info("opened next page", logger.F("page", pageIndex+1))

	// The click already happened; the page advances even if the settle wait
	// is interrupted.
	w.check.Wait(ctx, w.cfg.SettleDelay)
	return Outcome{Kind: Continue, NextPage: pageIndex + 1}
}
