// Package browser implements page.Page against a live Chromium tab driven
// over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/page"
	"github.com/chr1sbest/autoinvite/internal/resilience"
)

// tagAttr is the attribute stamped on items by Items.
const tagAttr = "data-autoinvite"

var (
	// ErrClosed is returned once the tab or browser has gone away.
	ErrClosed = errors.New("browser tab closed")
	// ErrStale is returned when an item handle outlived its page.
	ErrStale = errors.New("element belongs to a previous page")
)

// Options configures the browser session.
type Options struct {
	URL string
	// RemoteURL attaches to an already running browser (ws://...) instead of
	// launching one.
	RemoteURL       string
	ExecPath        string
	UserDataDir     string
	Headless        bool
	DoneClass       string
	NavigateTimeout time.Duration
	PollInterval    time.Duration
	Retry           resilience.RetryConfig
}

// DefaultOptions returns options for a visible, locally launched browser.
func DefaultOptions() Options {
	return Options{
		DoneClass:       "invited",
		NavigateTimeout: 30 * time.Second,
		PollInterval:    250 * time.Millisecond,
		Retry: resilience.RetryConfig{
			MaxRetries: 2,
			Backoff: resilience.Backoff{
				Initial:    time.Second,
				Max:        5 * time.Second,
				Multiplier: 2.0,
				Jitter:     0.1,
			},
		},
	}
}

// Page is a page.Page bound to one browser tab.
type Page struct {
	opts   Options
	log    logger.Logger
	tabCtx context.Context
	cancel func()

	gen        atomic.Int64
	navigating atomic.Bool
	loads      chan struct{}
	closeOnce  sync.Once
}

// Open launches (or attaches to) a browser, opens a tab and navigates to the
// listing URL.
func Open(ctx context.Context, opts Options, log logger.Logger) (*Page, error) {
	if opts.URL == "" {
		return nil, resilience.NewPermanentError(errors.New("target url is required"))
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = DefaultOptions().NavigateTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = logger.Component(log, "browser")

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		log.Debug(fmt.Sprintf(format, args...))
	}))

	p := &Page{
		opts:   opts,
		log:    log,
		tabCtx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		loads: make(chan struct{}, 1),
	}

	// The first Run starts the browser and attaches the tab.
	if err := p.run(ctx, 0); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := p.navigate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	log.Info("browser ready", logger.F("url", opts.URL), logger.F("remote", opts.RemoteURL != ""))
	return p, nil
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out, chromedp.Flag("headless", opts.Headless))
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

func (p *Page) onEvent(ev interface{}) {
	if _, ok := ev.(*cdppage.EventLoadEventFired); !ok {
		return
	}
	// Any full document load invalidates tagged item handles.
	p.gen.Add(1)
	if p.navigating.Load() {
		return
	}
	select {
	case p.loads <- struct{}{}:
	default:
	}
}

// Loads implements page.LoadNotifier. It fires for document loads the
// automation did not start itself, e.g. a reload or pagination that replaces
// the whole document.
func (p *Page) Loads() <-chan struct{} {
	return p.loads
}

// Home navigates back to the listing URL.
func (p *Page) Home(ctx context.Context) error {
	return p.navigate(ctx)
}

func (p *Page) navigate(ctx context.Context) error {
	p.navigating.Store(true)
	defer p.navigating.Store(false)

	return resilience.RetryWithCallback(ctx, p.opts.Retry, func(ctx context.Context) error {
		err := p.run(ctx, p.opts.NavigateTimeout,
			chromedp.Navigate(p.opts.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("navigate %s: %w", p.opts.URL, err)
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		p.log.Warn("navigation failed, retrying",
			logger.F("attempt", attempt),
			logger.F("error", err),
			logger.F("delay", next))
	})
}

// Close shuts the tab and, when launched locally, the browser.
func (p *Page) Close() {
	p.closeOnce.Do(p.cancel)
}

// run executes actions on the tab. Actions must run under a context derived
// from the tab context, so the caller's context is bound to it instead.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := p.tabCtx.Err(); err != nil {
		return resilience.NewPermanentError(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if p.tabCtx.Err() != nil {
		return resilience.NewPermanentError(fmt.Errorf("%w: %v", ErrClosed, err))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Our own timeout, not the caller's: worth another attempt.
		return resilience.NewTransientError(err)
	}
	return err
}

func (p *Page) eval(ctx context.Context, script string, out interface{}) error {
	return p.run(ctx, p.opts.NavigateTimeout, chromedp.Evaluate(script, out))
}

// WaitForItems polls the document until selector matches.
func (p *Page) WaitForItems(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	script := fmt.Sprintf(countScript, jsonArg(selector))
	for {
		var n int
		if err := p.eval(ctx, script, &n); err != nil {
			if resilience.IsPermanentError(err) {
				return err
			}
			// The document may be mid-load; keep polling.
			p.log.Debug("item poll failed", logger.F("error", err))
		} else if n > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return page.ErrNoItems
		case <-ticker.C:
		}
	}
}

// Items tags every match with a generation-scoped id and returns handles
// addressed by that id.
func (p *Page) Items(ctx context.Context, selector string) ([]page.Item, error) {
	gen := p.gen.Add(1)
	token := "g" + strconv.FormatInt(gen, 10)

	var n int
	script := fmt.Sprintf(tagItemsScript, jsonArg(selector), jsonArg(token), jsonArg(tagAttr))
	if err := p.eval(ctx, script, &n); err != nil {
		return nil, fmt.Errorf("tag items: %w", err)
	}

	items := make([]page.Item, n)
	for i := range items {
		items[i] = &item{page: p, index: i, token: token, gen: gen}
	}
	return items, nil
}

// Find implements page.Page.
func (p *Page) Find(ctx context.Context, selector string) (page.Control, error) {
	c := &control{page: p, selector: selector}
	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Present {
		return nil, nil
	}
	return c, nil
}

func itemSelector(token string, index int) string {
	return fmt.Sprintf(`[%s="%s-%d"]`, tagAttr, token, index)
}

type item struct {
	page  *Page
	index int
	token string
	gen   int64
}

func (it *item) Index() int { return it.index }

func (it *item) Control(ctx context.Context, selector string) (page.Control, error) {
	if it.gen != it.page.gen.Load() {
		return nil, ErrStale
	}
	c := &control{page: it.page, itemSel: itemSelector(it.token, it.index), selector: selector}
	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Present {
		return nil, nil
	}
	return c, nil
}

type control struct {
	page     *Page
	itemSel  string // empty for page-level controls
	selector string
}

func (c *control) state(ctx context.Context) (controlStateResult, error) {
	var res controlStateResult
	script := fmt.Sprintf(controlStateScript, jsonArg(c.itemSel), jsonArg(c.selector), jsonArg(c.page.opts.DoneClass))
	if err := c.page.eval(ctx, script, &res); err != nil {
		return res, fmt.Errorf("read control %s: %w", c.selector, err)
	}
	if res.Stale {
		return res, ErrStale
	}
	return res, nil
}

func (c *control) State(ctx context.Context) (page.ControlState, error) {
	res, err := c.state(ctx)
	if err != nil {
		return page.ControlState{}, err
	}
	return page.ControlState{Present: res.Present, Visible: res.Visible, Enabled: res.Enabled}, nil
}

func (c *control) Activate(ctx context.Context) error {
	var clicked bool
	script := fmt.Sprintf(activateScript, jsonArg(c.itemSel), jsonArg(c.selector))
	if err := c.page.eval(ctx, script, &clicked); err != nil {
		return fmt.Errorf("click %s: %w", c.selector, err)
	}
	if !clicked {
		return fmt.Errorf("click %s: %w", c.selector, ErrStale)
	}
	return nil
}
