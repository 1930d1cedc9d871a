package htmlpage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chr1sbest/autoinvite/internal/page"
)

const firstPage = `<html><body>
<ul>
  <li class="card"><button class="Invite">Invite</button><button class="Skip">Skip</button></li>
  <li class="card"><button class="Invite" disabled>Invite</button><button class="Skip">Skip</button></li>
  <li class="card"><button class="Invite invited">Invite</button></li>
  <li class="card" style="display: none"><button class="Invite">Invite</button></li>
  <li class="card"><button class="Invite" style="opacity:0">Invite</button></li>
</ul>
<div class="captcha-container" hidden></div>
<a class="next-page">Next</a>
</body></html>`

const secondPage = `<html><body>
<ul><li class="card"><button class="Invite">Invite</button></li></ul>
<a class="next-page" aria-disabled="true">Next</a>
</body></html>`

func newTestPage(t *testing.T) *Page {
	t.Helper()
	p, err := FromHTML([]string{firstPage, secondPage}, WithNextSelector(".next-page"))
	require.NoError(t, err)
	return p
}

func controlState(t *testing.T, it page.Item, sel string) page.ControlState {
	t.Helper()
	c, err := it.Control(context.Background(), sel)
	require.NoError(t, err)
	if c == nil {
		return page.ControlState{}
	}
	st, err := c.State(context.Background())
	require.NoError(t, err)
	return st
}

func TestItemsAndControlStates(t *testing.T) {
	ctx := context.Background()
	p := newTestPage(t)

	items, err := p.Items(ctx, ".card")
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.True(t, controlState(t, items[0], ".Invite").Actionable())
	assert.False(t, controlState(t, items[1], ".Invite").Enabled, "disabled attribute")
	assert.False(t, controlState(t, items[2], ".Invite").Enabled, "done class")
	assert.False(t, controlState(t, items[2], ".Skip").Present)
	assert.False(t, controlState(t, items[3], ".Invite").Visible, "hidden ancestor")
	assert.False(t, controlState(t, items[4], ".Invite").Visible, "zero opacity")
}

func TestActivateMarksControlDone(t *testing.T) {
	ctx := context.Background()
	p := newTestPage(t)

	items, err := p.Items(ctx, ".card")
	require.NoError(t, err)
	c, err := items[0].Control(ctx, ".Invite")
	require.NoError(t, err)
	require.NoError(t, c.Activate(ctx))

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, []Click{{Page: 1, Item: 0, Selector: ".Invite"}}, p.Clicks())
}

func TestFindHiddenChallenge(t *testing.T) {
	ctx := context.Background()
	p := newTestPage(t)

	c, err := p.Find(ctx, ".captcha-container")
	require.NoError(t, err)
	require.NotNil(t, c)
	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.False(t, st.Visible)

	missing, err := p.Find(ctx, ".nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNextSwapsSnapshotAndStalesHandles(t *testing.T) {
	ctx := context.Background()
	p := newTestPage(t)

	items, err := p.Items(ctx, ".card")
	require.NoError(t, err)

	next, err := p.Find(ctx, ".next-page")
	require.NoError(t, err)
	require.NoError(t, next.Activate(ctx))
	assert.Equal(t, 2, p.PageNumber())

	_, err = items[0].Control(ctx, ".Invite")
	assert.ErrorIs(t, err, ErrStale)

	next, err = p.Find(ctx, ".next-page")
	require.NoError(t, err)
	st, err := next.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)

	require.NoError(t, p.Home(ctx))
	assert.Equal(t, 1, p.PageNumber())
	select {
	case <-p.Loads():
		t.Fatal("Home is self-initiated and must not signal a load")
	default:
	}

	items, err = p.Items(ctx, ".card")
	require.NoError(t, err)
	require.NoError(t, p.Reload())
	select {
	case <-p.Loads():
	default:
		t.Fatal("expected a load signal after Reload")
	}
	_, err = items[0].Control(ctx, ".Invite")
	assert.ErrorIs(t, err, ErrStale)
}

func TestWaitForItemsTimesOut(t *testing.T) {
	p, err := FromHTML([]string{`<html><body></body></html>`})
	require.NoError(t, err)

	err = p.WaitForItems(context.Background(), ".card", 10*time.Millisecond)
	assert.ErrorIs(t, err, page.ErrNoItems)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.WaitForItems(ctx, ".card", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenOrdersByPageNumber(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-10.html"), []byte(`<p class="n">ten</p>`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-2.html"), []byte(`<p class="n">two</p>`), 0644))

	p, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "two", p.doc.Find(".n").Text())

	_, err = Open(t.TempDir())
	assert.Error(t, err)
}
