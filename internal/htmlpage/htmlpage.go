// Package htmlpage implements page.Page over static HTML snapshots of the
// listing. It backs dry runs (--fixtures) and fixture-driven tests: clicks are
// recorded and reflected in the document, and activating the next control
// swaps in the following snapshot.
package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chr1sbest/autoinvite/internal/page"
)

// ErrStale is returned when a handle from a previous snapshot is used.
var ErrStale = errors.New("element belongs to a previous page")

// Click records one activation.
type Click struct {
	Page     int
	Item     int // -1 for page-level controls
	Selector string
}

// Page is a page.Page backed by goquery documents.
type Page struct {
	mu        sync.Mutex
	sources   []string
	current   int
	gen       int
	doc       *goquery.Document
	doneClass string
	nextSel   string
	clicks    []Click
	loads     chan struct{}
}

// Option configures a Page.
type Option func(*Page)

// WithDoneClass sets the class added to activated item controls, matching the
// marker the real site adds to handled buttons.
func WithDoneClass(class string) Option {
	return func(p *Page) { p.doneClass = class }
}

// WithNextSelector marks which page-level selector paginates.
func WithNextSelector(sel string) Option {
	return func(p *Page) { p.nextSel = sel }
}

var pageFileRe = regexp.MustCompile(`(\d+)\.html?$`)

// Open loads every *.html file in dir, ordered by the trailing page number
// (page-1.html, page-2.html, ...), falling back to name order.
func Open(dir string, opts ...Option) (*Page, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.htm*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list fixtures: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no html fixtures in %s", dir)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		ni, oki := pageNumber(matches[i])
		nj, okj := pageNumber(matches[j])
		if oki && okj && ni != nj {
			return ni < nj
		}
		return matches[i] < matches[j]
	})

	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
		sources = append(sources, string(b))
	}
	return FromHTML(sources, opts...)
}

func pageNumber(path string) (int, bool) {
	m := pageFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// FromHTML builds a page from in-memory documents, one per listing page.
func FromHTML(sources []string, opts ...Option) (*Page, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one html document is required")
	}
	p := &Page{
		sources:   sources,
		doneClass: "invited",
		loads:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.load(0); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) load(i int) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.sources[i]))
	if err != nil {
		return fmt.Errorf("failed to parse page %d: %w", i+1, err)
	}
	p.doc = doc
	p.current = i
	p.gen++
	return nil
}

// PageNumber returns the 1-based index of the loaded snapshot.
func (p *Page) PageNumber() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current + 1
}

// Clicks returns a copy of every recorded activation.
func (p *Page) Clicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Click, len(p.clicks))
	copy(out, p.clicks)
	return out
}

// Loads implements page.LoadNotifier. Like a browser tab, only reloads the
// automation did not start itself are reported, see Reload.
func (p *Page) Loads() <-chan struct{} {
	return p.loads
}

// Home reloads the first snapshot, discarding recorded DOM changes.
func (p *Page) Home(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(0)
}

// Reload re-parses the current snapshot, as if the operator refreshed the
// tab, and signals Loads. Recorded clicks survive; DOM changes do not.
func (p *Page) Reload() error {
	p.mu.Lock()
	err := p.load(p.current)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case p.loads <- struct{}{}:
	default:
	}
	return nil
}

// WaitForItems succeeds immediately when the snapshot has items. Snapshots
// never change on their own, so an empty one fails once the timeout elapses.
func (p *Page) WaitForItems(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	n := p.doc.Find(selector).Length()
	p.mu.Unlock()
	if n > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return page.ErrNoItems
	}
}

// Items implements page.Page.
func (p *Page) Items(ctx context.Context, selector string) ([]page.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var items []page.Item
	p.doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		items = append(items, &item{page: p, sel: s, index: i, gen: p.gen})
	})
	return items, nil
}

// Find implements page.Page.
func (p *Page) Find(ctx context.Context, selector string) (page.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, nil
	}
	return &control{page: p, sel: s, item: -1, selector: selector, gen: p.gen, next: selector == p.nextSel}, nil
}

type item struct {
	page  *Page
	sel   *goquery.Selection
	index int
	gen   int
}

func (it *item) Index() int { return it.index }

func (it *item) Control(ctx context.Context, selector string) (page.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it.page.mu.Lock()
	defer it.page.mu.Unlock()
	if it.gen != it.page.gen {
		return nil, ErrStale
	}

	s := it.sel.Find(selector).First()
	if s.Length() == 0 {
		return nil, nil
	}
	return &control{page: it.page, sel: s, item: it.index, selector: selector, gen: it.gen}, nil
}

type control struct {
	page     *Page
	sel      *goquery.Selection
	item     int
	selector string
	gen      int
	next     bool
}

func (c *control) State(ctx context.Context) (page.ControlState, error) {
	if err := ctx.Err(); err != nil {
		return page.ControlState{}, err
	}
	c.page.mu.Lock()
	defer c.page.mu.Unlock()
	if c.gen != c.page.gen {
		return page.ControlState{}, ErrStale
	}

	return page.ControlState{
		Present: true,
		Visible: visible(c.sel),
		Enabled: enabled(c.sel, c.page.doneClass),
	}, nil
}

func (c *control) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.page.mu.Lock()
	defer c.page.mu.Unlock()
	if c.gen != c.page.gen {
		return ErrStale
	}

	c.page.clicks = append(c.page.clicks, Click{Page: c.page.current + 1, Item: c.item, Selector: c.selector})

	if c.next {
		nextIdx := c.page.current + 1
		if nextIdx >= len(c.page.sources) {
			return fmt.Errorf("no snapshot for page %d", nextIdx+1)
		}
		return c.page.load(nextIdx)
	}

	c.sel.SetAttr("disabled", "disabled")
	if c.page.doneClass != "" {
		c.sel.AddClass(c.page.doneClass)
	}
	return nil
}

// visible walks the element and its ancestors looking for anything that
// would keep it from being rendered.
func visible(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if goquery.NodeName(n) == "#document" {
			break
		}
		if _, hidden := n.Attr("hidden"); hidden {
			return false
		}
		if n.HasClass("hidden") {
			return false
		}
		style, _ := n.Attr("style")
		if hiddenByStyle(style) {
			return false
		}
	}
	return true
}

func hiddenByStyle(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important")))
		switch key {
		case "display":
			if value == "none" {
				return true
			}
		case "visibility":
			if value == "hidden" || value == "collapse" {
				return true
			}
		case "opacity":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f <= 0 {
				return true
			}
		}
	}
	return false
}

func enabled(s *goquery.Selection, doneClass string) bool {
	if _, disabled := s.Attr("disabled"); disabled {
		return false
	}
	if v, _ := s.Attr("aria-disabled"); strings.EqualFold(v, "true") {
		return false
	}
	if s.HasClass("disabled") {
		return false
	}
	if doneClass != "" && s.HasClass(doneClass) {
		return false
	}
	return true
}
