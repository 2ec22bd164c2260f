// Package slides drives which slide of a loaded set is on screen, from live
// commands, from a peer's slide messages, or from a timeline during replay.
package slides

import "sync"

// Set is an ordered list of slide image references owned by whoever loaded
// it. The references may be temporary resources; Release frees them.
type Set struct {
	Refs []string

	once    sync.Once
	release func()
}

// NewSet wraps refs. release runs once when the set is released or
// superseded, and may be nil.
func NewSet(refs []string, release func()) *Set {
	return &Set{Refs: refs, release: release}
}

// Len returns the number of slides; a nil set has none.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Refs)
}

// Release frees the underlying resources. Safe to call more than once.
func (s *Set) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Surface is where a slide is displayed.
type Surface interface {
	Clear()
	Show(ref string)
}

// Recorder is a Surface that remembers what it was asked to show. It backs
// headless sessions and tests.
type Recorder struct {
	mu    sync.Mutex
	shown []string
	blank bool
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	r.blank = true
	r.mu.Unlock()
}

func (r *Recorder) Show(ref string) {
	r.mu.Lock()
	r.shown = append(r.shown, ref)
	r.blank = false
	r.mu.Unlock()
}

// Showing returns the ref currently displayed, or "" when cleared.
func (r *Recorder) Showing() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blank || len(r.shown) == 0 {
		return ""
	}
	return r.shown[len(r.shown)-1]
}

// Renders counts how many times a slide was shown.
func (r *Recorder) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}
