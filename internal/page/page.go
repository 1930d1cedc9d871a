// Package page describes the slice of a rendered listing page that the
// automation needs: an item collection, controls inside items, and page-level
// controls such as the next-page button or a challenge widget.
package page

import (
	"context"
	"errors"
	"time"
)

// ErrNoItems is returned by WaitForItems when the item collection did not
// appear before the timeout.
var ErrNoItems = errors.New("no items found")

// ControlState is a point-in-time reading of a control.
type ControlState struct {
	Present bool
	Visible bool
	Enabled bool
}

// Actionable reports whether the control can be clicked by a person.
func (s ControlState) Actionable() bool {
	return s.Present && s.Visible && s.Enabled
}

// Control is a clickable element.
type Control interface {
	State(ctx context.Context) (ControlState, error)
	Activate(ctx context.Context) error
}

// Item is one entry of the listing. It is only valid until the next
// pagination.
type Item interface {
	Index() int
	// Control returns the control matching selector inside the item, or nil
	// when there is none.
	Control(ctx context.Context, selector string) (Control, error)
}

// Page is the current listing page.
type Page interface {
	// WaitForItems blocks until at least one element matches selector, the
	// timeout elapses (ErrNoItems) or ctx is done.
	WaitForItems(ctx context.Context, selector string, timeout time.Duration) error
	// Items returns the current item handles in document order.
	Items(ctx context.Context, selector string) ([]Item, error)
	// Find returns the first page-level control matching selector, or nil.
	Find(ctx context.Context, selector string) (Control, error)
}

// Homer is implemented by pages that can return to the first listing page.
type Homer interface {
	Home(ctx context.Context) error
}

// LoadNotifier is implemented by pages that report full document loads, as
// opposed to in-page pagination.
type LoadNotifier interface {
	Loads() <-chan struct{}
}
