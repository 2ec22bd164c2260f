package slides

import (
	"context"
	"log"
	"sync"

	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/mossy-p/liveclass/internal/timeline"
)

// Engine holds the current slide of a set and renders it on a surface.
//
// Whenever the set is non-empty, 0 <= Current() < set.Len(). Requests that
// would break that are ignored, never reported.
type Engine struct {
	surface Surface

	mu      sync.Mutex
	set     *Set
	current int
	table   timeline.Table
	sender  signaling.Sender
	logID   string
}

// NewEngine returns an engine rendering on surface. A nil surface discards
// output.
func NewEngine(surface Surface) *Engine {
	if surface == nil {
		surface = &Recorder{}
	}
	return &Engine{surface: surface, logID: "slides"}
}

// Attach makes GoTo publish slide messages through sender. A nil sender
// detaches.
func (e *Engine) Attach(sender signaling.Sender, logID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
	if logID != "" {
		e.logID = logID
	}
}

// Load replaces the slide set, releasing the one it supersedes, and shows
// the first slide.
func (e *Engine) Load(set *Set) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set != nil && e.set != set {
		e.set.Release()
	}
	e.set = set
	e.current = 0
	e.renderLocked(0)
}

// Unload releases the current set and clears the surface.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.set.Release()
	e.set = nil
	e.current = 0
	e.surface.Clear()
}

// Len returns the size of the loaded set.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.Len()
}

// Current returns the index of the slide on display.
func (e *Engine) Current() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Render shows slide i without changing the current index. It does nothing
// when the set is empty or i is out of range.
func (e *Engine) Render(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderLocked(i)
}

func (e *Engine) renderLocked(i int) {
	if !e.inRangeLocked(i) {
		return
	}
	e.surface.Clear()
	e.surface.Show(e.set.Refs[i])
}

func (e *Engine) inRangeLocked(i int) bool {
	return i >= 0 && i < e.set.Len()
}

// GoTo moves to slide i and, when a sender is attached, tells the channel.
// Out of range requests change nothing, publish nothing and return false.
func (e *Engine) GoTo(ctx context.Context, i int) bool {
	e.mu.Lock()
	if !e.inRangeLocked(i) {
		e.mu.Unlock()
		return false
	}
	e.current = i
	e.renderLocked(i)
	sender, logID := e.sender, e.logID
	e.mu.Unlock()

	if sender != nil {
		if err := sender.Send(ctx, models.Slide{Index: i}); err != nil {
			log.Printf("[%s] Failed to publish slide %d: %v", logID, i, err)
		}
	}
	return true
}

// Next goes to the following slide if there is one.
func (e *Engine) Next(ctx context.Context) bool {
	return e.GoTo(ctx, e.Current()+1)
}

// Prev goes to the preceding slide if there is one.
func (e *Engine) Prev(ctx context.Context) bool {
	return e.GoTo(ctx, e.Current()-1)
}

// Follow applies a slide message from the presenter. Indexes outside the
// loaded set are dropped.
func (e *Engine) Follow(msg models.Slide) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inRangeLocked(msg.Index) {
		log.Printf("[%s] Ignoring slide %d, %d loaded", e.logID, msg.Index, e.set.Len())
		return false
	}
	e.current = msg.Index
	e.renderLocked(msg.Index)
	return true
}

// SetTimeline sets the table used by Tick.
func (e *Engine) SetTimeline(table timeline.Table) {
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()
}

// Tick shows the slide the timeline selects for playback position sec. The
// surface is only redrawn when the slide changes.
func (e *Engine) Tick(sec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slide, ok := e.table.Lookup(sec)
	if !ok || slide == e.current || !e.inRangeLocked(slide) {
		return
	}
	e.current = slide
	e.renderLocked(slide)
}

// Reset returns to the first slide.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = 0
	e.renderLocked(0)
}
