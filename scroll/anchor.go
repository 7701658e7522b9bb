// Package scroll computes viewport adjustments for timeline mutations. It
// reacts deterministically to completed mutations with explicit height
// deltas rather than settle-timer guessing: the UI reports its geometry and
// the controller returns the exact offset to apply.
package scroll

import "sync"

// DefaultBottomEpsilon is how close (in the UI's height units) the viewport
// may be to the bottom and still count as "at the bottom" for auto-scroll.
const DefaultBottomEpsilon = 2.0

// Viewport is the UI's scroll geometry in whatever unit the renderer uses
// (pixels for a browser-like view, rows for a terminal).
type Viewport struct {
	// Offset is the distance scrolled from the top of the content.
	Offset float64
	// Height is the visible extent.
	Height float64
	// ContentHeight is the total rendered timeline height.
	ContentHeight float64
}

// maxOffset is the offset at which the bottom of the content is flush with
// the bottom of the viewport.
func (v Viewport) maxOffset() float64 {
	if v.ContentHeight <= v.Height {
		return 0
	}
	return v.ContentHeight - v.Height
}

// Adjustment tells the UI where to scroll after a mutation renders.
type Adjustment struct {
	// ScrollTo is the offset to apply. Meaningful only when Changed.
	ScrollTo float64
	// Changed is false when the viewport should be left untouched.
	Changed bool
}

// Controller preserves the user's visual anchor across timeline mutations:
// stick to the bottom for live appends when already there, hold the
// current entry stationary across history prepends.
type Controller struct {
	epsilon float64

	mu       sync.Mutex
	viewport Viewport
}

// NewController creates a controller with the given bottom epsilon;
// epsilon <= 0 selects DefaultBottomEpsilon.
func NewController(epsilon float64) *Controller {
	if epsilon <= 0 {
		epsilon = DefaultBottomEpsilon
	}
	return &Controller{epsilon: epsilon}
}

// UpdateViewport records the UI's current geometry. Called from scroll and
// resize events, before the next mutation is applied.
func (c *Controller) UpdateViewport(v Viewport) {
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
}

// AtBottom reports whether the viewport is within epsilon of the bottom.
func (c *Controller) AtBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atBottomLocked()
}

func (c *Controller) atBottomLocked() bool {
	return c.viewport.maxOffset()-c.viewport.Offset <= c.epsilon
}

// AtTop reports whether the viewport shows the topmost loaded entry; the UI
// uses this to trigger loading older history.
func (c *Controller) AtTop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport.Offset <= 0
}

// OnAppend handles a live message appended at the tail, growing the content
// by addedHeight. If the viewport was at the bottom before the append, the
// adjustment scrolls to the new bottom; otherwise the user is reading
// history and the position is left alone.
func (c *Controller) OnAppend(addedHeight float64) Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasAtBottom := c.atBottomLocked()
	c.viewport.ContentHeight += addedHeight
	if !wasAtBottom {
		return Adjustment{}
	}
	c.viewport.Offset = c.viewport.maxOffset()
	return Adjustment{ScrollTo: c.viewport.Offset, Changed: true}
}

// OnPrepend handles a history page inserted above the viewport, growing the
// content by addedHeight. The offset shifts by exactly the added height so
// the entry the user was looking at stays visually stationary.
func (c *Controller) OnPrepend(addedHeight float64) Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport.ContentHeight += addedHeight
	c.viewport.Offset += addedHeight
	return Adjustment{ScrollTo: c.viewport.Offset, Changed: true}
}

// OnInitialLoad scrolls to the bottom unconditionally after the first page
// renders, replacing the viewport geometry with the rendered content.
func (c *Controller) OnInitialLoad(contentHeight float64) Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport.ContentHeight = contentHeight
	c.viewport.Offset = c.viewport.maxOffset()
	return Adjustment{ScrollTo: c.viewport.Offset, Changed: true}
}

// Snapshot returns the controller's current view of the geometry.
func (c *Controller) Snapshot() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}
