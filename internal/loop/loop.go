package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chr1sbest/autoinvite/internal/actuator"
	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/message"
	"github.com/chr1sbest/autoinvite/internal/page"
	"github.com/chr1sbest/autoinvite/internal/resilience"
	"github.com/chr1sbest/autoinvite/internal/tracing"
	"github.com/chr1sbest/autoinvite/internal/tracker"
	"github.com/chr1sbest/autoinvite/internal/walker"
)

// ErrClosed is returned when a command is sent after Run has returned.
var ErrClosed = errors.New("controller is not running")

// Walker processes the current listing page.
type Walker interface {
	ProcessPage(ctx context.Context, pageIndex int) walker.Outcome
}

// Publisher receives every outbound event.
type Publisher interface {
	Publish(ev message.Event)
}

// RunStateWriter persists run snapshots.
type RunStateWriter interface {
	WriteRunState(s tracker.RunState) error
}

// Config holds the retry policy of the controller.
type Config struct {
	MaxRetries      int
	ErrorRetryDelay time.Duration
	MaxRetryDelay   time.Duration
}

// DefaultConfig retries a page three times starting five seconds apart.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, ErrorRetryDelay: 5 * time.Second, MaxRetryDelay: 30 * time.Second}
}

type command struct {
	event          Event
	shouldContinue bool
	fresh          bool
	reconfigure    func()
	cfg            *Config
}

// Controller owns the run state and drives the walker. All state changes
// happen on the goroutine running Run; other goroutines talk to it through
// commands.
type Controller struct {
	cfg       Config
	walker    Walker
	page      page.Page
	publisher Publisher
	runWriter RunStateWriter
	onReset   func()
	log       logger.Logger
	now       func() time.Time
	newRunID  func() string

	cmds chan command
	done chan struct{}

	// Owned by the Run goroutine.
	state     RunState
	resumable bool
	restart   bool
	runCtx    context.Context
	runSpan   *tracing.Span

	mu   sync.RWMutex
	snap RunState
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithRunStateWriter enables writing run snapshots.
func WithRunStateWriter(w RunStateWriter) Option {
	return func(c *Controller) { c.runWriter = w }
}

// WithResetHook calls fn each time a reset returns the controller to Idle.
func WithResetHook(fn func()) Option {
	return func(c *Controller) { c.onReset = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = logger.Component(l, "controller") }
}

// WithPage lets a fresh start rewind the listing when the page supports it.
func WithPage(p page.Page) Option {
	return func(c *Controller) { c.page = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunIDs replaces the run ID generator, for tests.
func WithRunIDs(gen func() string) Option {
	return func(c *Controller) { c.newRunID = gen }
}

// New creates an idle controller. The walker is attached separately with
// SetWalker because it uses the controller as its checkpoint.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		log:      logger.NewNop(),
		now:      time.Now,
		newRunID: tracker.NewRunID,
		cmds:     make(chan command, 64),
		done:     make(chan struct{}),
		state:    newRunState(),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap = c.state.clone()
	return c
}

// SetWalker attaches the walker. Call before Run.
func (c *Controller) SetWalker(w Walker) {
	c.walker = w
}

// Restore seeds counters from persisted state. Only a run that was live when
// the state was written (running or paused) is continued by the next Start
// from Idle; anything else starts fresh. Call before Run.
func (c *Controller) Restore(s message.PersistedState) {
	if !s.IsRunning {
		return
	}
	c.state.PrimaryCount = s.PrimaryCount
	c.state.SecondaryCount = s.SecondaryCount
	if s.CurrentPage > 0 {
		c.state.CurrentPage = s.CurrentPage
	}
	c.resumable = true
	c.publishSnapshot()
}

// Snapshot returns a copy of the run state.
func (c *Controller) Snapshot() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) send(cmd command) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Start begins a run. From Idle it continues a restored live run; otherwise
// it starts fresh.
func (c *Controller) Start() error { return c.send(command{event: EventStart}) }

// StartFresh begins a run discarding restored state.
func (c *Controller) StartFresh() error { return c.send(command{event: EventStart, fresh: true}) }

// Pause holds the run at the next checkpoint.
func (c *Controller) Pause() error { return c.send(command{event: EventPause}) }

// Resume continues a paused run on the same page.
func (c *Controller) Resume() error { return c.send(command{event: EventResume}) }

// Stop ends the run once the in-flight action returns.
func (c *Controller) Stop() error { return c.send(command{event: EventStop}) }

// Reset returns a stopped or failed controller to Idle.
func (c *Controller) Reset() error { return c.send(command{event: EventReset}) }

// PageReady reports a full document load.
func (c *Controller) PageReady(shouldContinue bool) error {
	return c.send(command{event: EventPageReady, shouldContinue: shouldContinue})
}

// Reconfigure swaps the retry policy and runs apply on the controller
// goroutine, between items, so collaborators can be retuned safely.
func (c *Controller) Reconfigure(cfg Config, apply func()) error {
	return c.send(command{cfg: &cfg, reconfigure: apply})
}

// Send dispatches an operator control message.
func (c *Controller) Send(cmd message.Command) error {
	switch cmd.Action {
	case message.ActionStart:
		return c.Start()
	case message.ActionPause:
		return c.Pause()
	case message.ActionResume:
		return c.Resume()
	case message.ActionStop:
		return c.Stop()
	case message.ActionReset:
		return c.Reset()
	default:
		c.log.Warn("ignoring unknown control message", logger.F("action", string(cmd.Action)))
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// Run serves commands and drives the walker until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	_, err := c.run(ctx, false)
	return err
}

// RunUntilHalted is Run that also returns once a run ends in Stopped or
// Failed.
func (c *Controller) RunUntilHalted(ctx context.Context) (Phase, error) {
	return c.run(ctx, true)
}

func (c *Controller) run(ctx context.Context, untilHalted bool) (Phase, error) {
	defer close(c.done)
	if c.walker == nil {
		return c.state.Phase, errors.New("controller has no walker")
	}
	c.runCtx = ctx
	defer c.endRunSpan(nil)

	for {
		if err := ctx.Err(); err != nil {
			return c.state.Phase, err
		}
		if untilHalted && c.state.Phase.Halted() {
			return c.state.Phase, nil
		}
		if c.state.Phase == PhaseRunning {
			c.step(ctx)
			continue
		}
		select {
		case <-ctx.Done():
			return c.state.Phase, ctx.Err()
		case cmd := <-c.cmds:
			c.apply(cmd)
		}
	}
}

// step runs the walker once on the current page and reacts to the outcome.
func (c *Controller) step(ctx context.Context) {
	c.restart = false
	idx := c.state.CurrentPage
	out := c.walker.ProcessPage(ctx, idx)
	c.drain()
	if ctx.Err() != nil {
		return
	}

	if out.Kind == walker.Continue {
		// The click happened even if the phase changed meanwhile.
		c.state.CurrentPage = idx + 1
		c.state.PagesVisited++
		c.publishSnapshot()
	}
	var anomalyKind string
	if out.Kind == walker.Blocked {
		// Counted even if a pause or stop drained above changed the phase.
		anomalyKind = c.noteAnomaly(out)
	}

	switch c.state.Phase {
	case PhaseStopping:
		c.fire(EventHalted, "Automation stopped", message.LevelInfo)
		return
	case PhaseRunning:
	default:
		if out.Kind == walker.Failed {
			c.appendError(out.Err, fmt.Sprintf("page %d", idx))
		}
		return
	}

	if c.restart {
		c.restart = false
		if out.Kind == walker.Failed || out.Kind == walker.Interrupted {
			c.log.Debug("page reloaded during processing, re-entering", logger.F("page", c.state.CurrentPage))
			return
		}
	}

	switch out.Kind {
	case walker.Continue:
		c.status(fmt.Sprintf("Moved to page %d", c.state.CurrentPage), message.LevelInfo)
	case walker.Exhausted:
		c.fire(EventExhausted, "No more pages. Automation complete", message.LevelSuccess)
	case walker.Blocked:
		c.fire(EventBlocked, fmt.Sprintf("Detected %s. Resolve it in the browser, then resume", anomalyKind), message.LevelWarning)
	case walker.Failed:
		c.pageFailed(ctx, idx, out.Err)
	case walker.Interrupted:
	}

	// A stop may have arrived during the retry wait.
	if c.state.Phase == PhaseStopping {
		c.fire(EventHalted, "Automation stopped", message.LevelInfo)
	}
}

func (c *Controller) noteAnomaly(out walker.Outcome) string {
	kind := "anomaly"
	if out.Anomaly != nil {
		kind = out.Anomaly.Kind
	}
	c.state.Anomalies++
	if c.runSpan != nil {
		c.runSpan.Event("anomaly", tracing.String("kind", kind))
	}
	c.emit(message.Event{Type: message.EventAnomalyDetected, Kind: kind})
	c.publishSnapshot()
	return kind
}

func (c *Controller) pageFailed(ctx context.Context, idx int, err error) {
	if err == nil {
		err = errors.New("page failed")
	}
	c.appendError(err, fmt.Sprintf("page %d", idx))

	if resilience.IsPermanentError(err) {
		c.fire(EventFatal, fmt.Sprintf("Automation failed: %v", err), message.LevelError)
		return
	}

	c.state.ConsecutiveErrors++
	if c.state.ConsecutiveErrors > c.cfg.MaxRetries {
		c.fire(EventRetriesExhausted,
			fmt.Sprintf("Stopping after %d consecutive failures: %v", c.state.ConsecutiveErrors, err),
			message.LevelError)
		return
	}

	delay := c.backoff().Delay(c.state.ConsecutiveErrors)
	c.fire(EventFailed,
		fmt.Sprintf("Page %d failed (%v), retrying in %s (%d/%d)", idx, err, delay.Round(time.Millisecond), c.state.ConsecutiveErrors, c.cfg.MaxRetries),
		message.LevelWarning)
	c.Wait(ctx, delay)
}

func (c *Controller) backoff() resilience.Backoff {
	b := resilience.DefaultBackoff(c.cfg.ErrorRetryDelay)
	if c.cfg.MaxRetryDelay > 0 {
		b.Max = c.cfg.MaxRetryDelay
	}
	return b
}

// Running drains pending commands and reports whether the run may proceed.
func (c *Controller) Running() bool {
	c.drain()
	return c.state.Phase == PhaseRunning && !c.restart
}

// Wait suspends for d while applying commands as they arrive. It returns
// early, with false, as soon as the run should not proceed.
func (c *Controller) Wait(ctx context.Context, d time.Duration) bool {
	if !c.Running() {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-c.cmds:
			c.apply(cmd)
			if c.state.Phase != PhaseRunning || c.restart {
				return false
			}
		case <-timer.C:
			return c.Running()
		}
	}
}

func (c *Controller) drain() {
	for {
		select {
		case cmd := <-c.cmds:
			c.apply(cmd)
		default:
			return
		}
	}
}

func (c *Controller) apply(cmd command) {
	if cmd.cfg != nil || cmd.reconfigure != nil {
		if cmd.cfg != nil {
			c.cfg = *cmd.cfg
		}
		if cmd.reconfigure != nil {
			cmd.reconfigure()
		}
		c.log.Info("configuration reloaded")
		return
	}

	switch cmd.event {
	case EventStart:
		c.start(cmd.fresh)
	case EventPause:
		c.fire(EventPause, "Automation paused", message.LevelInfo)
	case EventResume:
		c.fire(EventResume, fmt.Sprintf("Automation resumed on page %d", c.state.CurrentPage), message.LevelInfo)
	case EventStop:
		if c.state.Phase == PhaseRunning {
			c.fire(EventStop, "Stopping after the current action", message.LevelInfo)
		} else {
			c.fire(EventStop, "Automation stopped", message.LevelInfo)
		}
	case EventReset:
		if c.fire(EventReset, "Ready", message.LevelInfo) {
			c.endRunSpan(nil)
			if c.onReset != nil {
				c.onReset()
			}
		}
	case EventPageReady:
		c.pageReady(cmd.shouldContinue)
	default:
		c.log.Warn("ignoring unknown event", logger.F("event", string(cmd.event)))
	}
}

func (c *Controller) start(fresh bool) {
	from := c.state.Phase
	if _, ok := Transition(from, EventStart); !ok {
		c.ignored(EventStart)
		return
	}
	if from != PhaseIdle || !c.resumable {
		fresh = true
	}
	c.enterRunning(fresh)
	if fresh {
		c.fire(EventStart, "Automation started", message.LevelInfo)
	} else {
		c.fire(EventStart, fmt.Sprintf("Automation continued from saved progress (%d invited, %d skipped)",
			c.state.PrimaryCount, c.state.SecondaryCount), message.LevelInfo)
	}
}

func (c *Controller) pageReady(shouldContinue bool) {
	switch c.state.Phase {
	case PhaseIdle:
		if !shouldContinue {
			c.log.Debug("page loaded, not continuing")
			return
		}
		c.enterRunning(false)
		c.fire(EventPageReady, fmt.Sprintf("Page loaded, continuing on page %d", c.state.CurrentPage), message.LevelInfo)
	case PhaseRunning:
		c.restart = true
		c.fire(EventPageReady, fmt.Sprintf("Page reloaded, continuing on page %d", c.state.CurrentPage), message.LevelInfo)
	default:
		c.ignored(EventPageReady)
	}
}

// enterRunning is the single entry into page processing for both explicit
// starts and page-load continuations. A fresh entry begins a new run. A
// continuation of restored state keeps the counters but starts over on the
// first page, since the page was opened anew by this process.
func (c *Controller) enterRunning(fresh bool) {
	restored := c.resumable
	c.resumable = false
	c.restart = false
	c.state.ConsecutiveErrors = 0
	if !fresh {
		if c.state.RunID == "" {
			c.beginRun()
		}
		if restored {
			c.state.CurrentPage = 1
			c.rewind()
		}
		return
	}

	c.endRunSpan(nil)
	c.state.PrimaryCount = 0
	c.state.SecondaryCount = 0
	c.state.CurrentPage = 1
	c.state.ErrorLog = nil
	c.state.LastActionAt = nil
	c.state.Anomalies = 0
	c.state.PagesVisited = 0
	c.beginRun()
	c.rewind()
}

// rewind returns the page to the start of the listing when it can.
func (c *Controller) rewind() {
	h, ok := c.page.(page.Homer)
	if !ok {
		return
	}
	if err := h.Home(c.runCtx); err != nil {
		c.appendError(err, "rewind to first page")
	}
}

func (c *Controller) beginRun() {
	c.state.RunID = c.newRunID()
	c.state.StartedAt = c.now()
	_, c.runSpan = tracing.Start(c.runCtx, "autoinvite.run", tracing.String("run.id", c.state.RunID))
}

func (c *Controller) endRunSpan(err error) {
	if c.runSpan == nil {
		return
	}
	c.runSpan.SetAttributes(
		tracing.Int("primary", c.state.PrimaryCount),
		tracing.Int("secondary", c.state.SecondaryCount),
		tracing.Int("pages", c.state.CurrentPage),
		tracing.Int("errors", c.state.ErrorCount()),
	)
	c.runSpan.End(err)
	c.runSpan = nil
}

// fire applies ev and, when it applies, publishes a status and writes a
// run snapshot. It reports whether ev applied.
func (c *Controller) fire(ev Event, msg string, level message.Level) bool {
	from := c.state.Phase
	next, ok := Transition(from, ev)
	if !ok {
		c.ignored(ev)
		return false
	}
	c.state.Phase = next
	c.log.Debug("transition", logger.F("from", string(from)), logger.F("event", string(ev)), logger.F("to", string(next)))
	c.status(msg, level)
	c.writeRunState()
	if next.Halted() && next != from {
		var err error
		if next == PhaseFailed || ev == EventRetriesExhausted {
			err = errors.New(msg)
		}
		c.endRunSpan(err)
	}
	return true
}

func (c *Controller) ignored(ev Event) {
	c.log.Warn("event ignored in current phase", logger.F("event", string(ev)), logger.F("phase", string(c.state.Phase)))
}

// RecordAction implements actuator.Recorder.
func (c *Controller) RecordAction(kind actuator.ActionKind) {
	now := c.now()
	c.state.LastActionAt = &now
	c.state.ConsecutiveErrors = 0
	switch kind {
	case actuator.Primary:
		c.state.PrimaryCount++
		c.status(fmt.Sprintf("Invited candidate #%d", c.state.PrimaryCount), message.LevelSuccess)
	default:
		c.state.SecondaryCount++
		c.status(fmt.Sprintf("Skipped candidate #%d", c.state.SecondaryCount), message.LevelInfo)
	}
}

// RecordItem implements walker.Recorder.
func (c *Controller) RecordItem(index int, out actuator.Outcome) {
	switch out.Kind {
	case actuator.Failed:
		c.appendError(out.Err, fmt.Sprintf("item %d on page %d", index+1, c.state.CurrentPage))
	case actuator.NoApplicableAction:
		c.status(fmt.Sprintf("No action available for item %d", index+1), message.LevelInfo)
	}
}

// RecordError implements walker.Recorder.
func (c *Controller) RecordError(err error, where string) {
	c.appendError(err, where)
}

func (c *Controller) appendError(err error, where string) {
	if err == nil {
		return
	}
	c.state.ErrorLog = append(c.state.ErrorLog, ErrorEntry{Time: c.now(), Message: err.Error(), Context: where})
	c.log.Warn("recovered error",
		logger.F("context", where),
		logger.F("class", string(resilience.Classify(err))),
		logger.F("error", err))
	c.status(fmt.Sprintf("Error in %s: %v", where, err), message.LevelWarning)
}

func (c *Controller) status(msg string, level message.Level) {
	c.publishSnapshot()
	c.emit(message.Event{
		Type: message.EventStatusUpdate,
		Data: &message.StatusData{
			Message:        msg,
			Type:           level,
			PrimaryCount:   c.state.PrimaryCount,
			SecondaryCount: c.state.SecondaryCount,
			CurrentPage:    c.state.CurrentPage,
			ErrorCount:     c.state.ErrorCount(),
		},
	})
}

func (c *Controller) emit(ev message.Event) {
	if c.publisher == nil {
		return
	}
	ev.RunID = c.state.RunID
	ev.Phase = string(c.state.Phase)
	ev.Time = c.now()
	c.publisher.Publish(ev)
}

func (c *Controller) publishSnapshot() {
	c.mu.Lock()
	c.snap = c.state.clone()
	c.mu.Unlock()
}

func (c *Controller) writeRunState() {
	if c.runWriter == nil {
		return
	}
	rs := tracker.RunState{
		RunID:          c.state.RunID,
		PID:            os.Getpid(),
		StartedAt:      c.state.StartedAt,
		UpdatedAt:      c.now(),
		Phase:          string(c.state.Phase),
		CurrentPage:    c.state.CurrentPage,
		PrimaryCount:   c.state.PrimaryCount,
		SecondaryCount: c.state.SecondaryCount,
		ErrorCount:     c.state.ErrorCount(),
		LastActionAt:   c.state.LastActionAt,
	}
	if n := len(c.state.ErrorLog); n > 0 {
		rs.LastError = c.state.ErrorLog[n-1].Message
	}
	if err := c.runWriter.WriteRunState(rs); err != nil {
		c.log.Debug("failed to write run state", logger.F("error", err))
	}
}
