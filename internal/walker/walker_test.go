package walker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chr1sbest/autoinvite/internal/actuator"
	"github.com/chr1sbest/autoinvite/internal/anomaly"
	"github.com/chr1sbest/autoinvite/internal/htmlpage"
	"github.com/chr1sbest/autoinvite/internal/pacing"
	"github.com/chr1sbest/autoinvite/internal/page"
)

const fiveItems = `<html><body>
<div class="card"><button class="Invite">Invite</button><button class="Skip" disabled>Skip</button></div>
<div class="card"><button class="Invite" disabled>Invite</button><button class="Skip">Skip</button></div>
<div class="card"><button class="Invite">Invite</button></div>
<div class="card"><button class="Invite" disabled>Invite</button><button class="Skip" disabled>Skip</button></div>
<div class="card"><button class="Invite">Invite</button><button class="Skip">Skip</button></div>
<a class="next-page">Next</a>
</body></html>`

const lastPage = `<html><body>
<div class="card"><button class="Invite">Invite</button></div>
<a class="next-page" disabled>Next</a>
</body></html>`

// checkpoint is Running until stopAfter Running calls have been made
// (0 means never stop).
type checkpoint struct {
	calls     int
	stopAfter int
	waits     []time.Duration
}

func (c *checkpoint) Running() bool {
	c.calls++
	return c.stopAfter == 0 || c.calls <= c.stopAfter
}

func (c *checkpoint) Wait(_ context.Context, d time.Duration) bool {
	c.waits = append(c.waits, d)
	return c.Running()
}

type recorder struct {
	actions []actuator.ActionKind
	items   map[int]actuator.OutcomeKind
	errors  []string
}

func newRecorder() *recorder { return &recorder{items: map[int]actuator.OutcomeKind{}} }

func (r *recorder) RecordAction(k actuator.ActionKind) { r.actions = append(r.actions, k) }
func (r *recorder) RecordItem(i int, out actuator.Outcome) {
	r.items[i] = out.Kind
}
func (r *recorder) RecordError(err error, ctx string) {
	r.errors = append(r.errors, ctx+": "+err.Error())
}

func (r *recorder) count(k actuator.ActionKind) int {
	n := 0
	for _, a := range r.actions {
		if a == k {
			n++
		}
	}
	return n
}

// scriptedDetector flags an anomaly on the nth inspection.
type scriptedDetector struct {
	calls int
	on    int
	err   error
}

func (d *scriptedDetector) Detect(context.Context, page.Page) (*anomaly.Anomaly, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if d.calls == d.on {
		return &anomaly.Anomaly{Kind: anomaly.KindVerificationChallenge, Selector: ".captcha-container", DetectedAt: time.Now()}, nil
	}
	return nil, nil
}

type harness struct {
	page   *htmlpage.Page
	check  *checkpoint
	rec    *recorder
	walker *Walker
}

func newHarness(t *testing.T, det anomaly.Detector, docs ...string) *harness {
	t.Helper()
	p, err := htmlpage.FromHTML(docs, htmlpage.WithNextSelector(".next-page"))
	require.NoError(t, err)
	policy, err := pacing.NewPolicyWithRand(time.Millisecond, 2*time.Millisecond, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	check := &checkpoint{}
	rec := newRecorder()
	act := actuator.New(actuator.DefaultRules(), policy, rec, check)
	cfg := Config{ItemSelector: ".card", NextSelector: ".next-page", ItemWaitTimeout: 10 * time.Millisecond, SettleDelay: 5 * time.Millisecond}
	return &harness{
		page:   p,
		check:  check,
		rec:    rec,
		walker: New(cfg, p, act, det, policy, check, rec, nil),
	}
}

func TestFiveItemScenario(t *testing.T) {
	det := &scriptedDetector{on: 5}
	h := newHarness(t, det, fiveItems)

	out := h.walker.ProcessPage(context.Background(), 1)

	assert.Equal(t, Blocked, out.Kind)
	require.NotNil(t, out.Anomaly)
	assert.Equal(t, anomaly.KindVerificationChallenge, out.Anomaly.Kind)
	assert.Equal(t, 2, h.rec.count(actuator.Primary))
	assert.Equal(t, 1, h.rec.count(actuator.Secondary))
	assert.Equal(t, map[int]actuator.OutcomeKind{3: actuator.NoApplicableAction}, h.rec.items)

	for _, c := range h.page.Clicks() {
		assert.NotEqual(t, 4, c.Item, "item 5 must not be actuated")
		assert.NotEqual(t, ".next-page", c.Selector, "no pagination after a block")
	}
}

func TestContinueAndExhausted(t *testing.T) {
	h := newHarness(t, nil, fiveItems, lastPage)
	ctx := context.Background()

	out := h.walker.ProcessPage(ctx, 1)
	require.Equal(t, Continue, out.Kind, "err: %v", out.Err)
	assert.Equal(t, 2, out.NextPage)
	assert.Equal(t, 2, h.page.PageNumber())
	assert.Contains(t, h.check.waits, 5*time.Millisecond, "settle delay after pagination")

	out = h.walker.ProcessPage(ctx, out.NextPage)
	assert.Equal(t, Exhausted, out.Kind)
	assert.Equal(t, 4, h.rec.count(actuator.Primary))
}

func TestNoItemsFails(t *testing.T) {
	h := newHarness(t, nil, `<html><body><p>empty</p></body></html>`)

	out := h.walker.ProcessPage(context.Background(), 1)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, page.ErrNoItems)
}

func TestPaginationFailure(t *testing.T) {
	// The next control exists but there is no snapshot to move to.
	h := newHarness(t, nil, fiveItems)

	out := h.walker.ProcessPage(context.Background(), 1)
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, ErrPagination)
}

func TestInterruptedBeforeStart(t *testing.T) {
	h := newHarness(t, nil, fiveItems)
	h.check.stopAfter = -1 // never running

	out := h.walker.ProcessPage(context.Background(), 1)
	assert.Equal(t, Interrupted, out.Kind)
	assert.Empty(t, h.page.Clicks())
}

func TestStopMidPage(t *testing.T) {
	h := newHarness(t, nil, fiveItems)
	// Entry, after wait, item 1, pacing wait, item 2, pacing wait; the next
	// checkpoint observes the stop.
	h.check.stopAfter = 6

	out := h.walker.ProcessPage(context.Background(), 1)
	assert.Equal(t, Interrupted, out.Kind)
	assert.Len(t, h.page.Clicks(), 2)
	assert.Equal(t, []actuator.ActionKind{actuator.Primary, actuator.Secondary}, h.rec.actions)
}

func TestDetectorErrorIsRecordedNotFatal(t *testing.T) {
	det := &scriptedDetector{err: errors.New("probe failed")}
	h := newHarness(t, det, lastPage)

	out := h.walker.ProcessPage(context.Background(), 1)
	assert.Equal(t, Exhausted, out.Kind)
	assert.Len(t, h.rec.errors, 1)
	assert.Contains(t, h.rec.errors[0], "detectAnomaly")
	assert.Equal(t, 1, h.rec.count(actuator.Primary))
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "interrupted", Interrupted.String())
}
