// Package recorder captures a lesson offline: the teacher's audio plus a
// timeline of the slide changes made while recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mossy-p/liveclass/internal/media"
	"github.com/mossy-p/liveclass/internal/slides"
	"github.com/mossy-p/liveclass/internal/timeline"
	"github.com/pion/rtp"
)

// MediaName is the file name of the captured asset inside a lesson.
const MediaName = "audio.ogg"

var (
	ErrNotRecording     = errors.New("no recording in progress")
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNoSlides         = errors.New("a recording needs at least one slide")
)

type State int

const (
	Idle State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is what a stopped recording hands to packaging.
type Result struct {
	Media     []byte
	MediaName string
	Timeline  timeline.Table
	Slides    []string
}

// Recorder is the idle -> recording <-> paused -> idle state machine.
type Recorder struct {
	source media.Source
	engine *slides.Engine
	now    func() time.Time

	mu      sync.Mutex
	state   State
	stream  *media.Stream
	capture *media.OggCapture
	started time.Time
	table   timeline.Table
	refs    []string
}

type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New returns an idle recorder capturing from source and showing slides on
// engine. A nil engine gets one that renders nowhere.
func New(source media.Source, engine *slides.Engine, opts ...Option) *Recorder {
	if engine == nil {
		engine = slides.NewEngine(nil)
	}
	r := &Recorder{source: source, engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Slides returns the engine showing the slide being recorded.
func (r *Recorder) Slides() *slides.Engine {
	return r.engine
}

// Timeline returns a copy of the entries recorded so far.
func (r *Recorder) Timeline() timeline.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(timeline.Table(nil), r.table...)
}

// Start acquires the capture device, then begins a recording over set with a
// fresh timeline. Nothing changes if the device cannot be acquired.
func (r *Recorder) Start(ctx context.Context, set *slides.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return ErrAlreadyRecording
	}
	if set.Len() == 0 {
		return ErrNoSlides
	}

	stream, err := r.source.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	capture, err := media.NewOggCapture()
	if err != nil {
		stream.Release()
		return fmt.Errorf("start recording: %w", err)
	}

	r.engine.Load(set)
	r.stream = stream
	r.capture = capture
	r.refs = append([]string(nil), set.Refs...)
	r.started = r.now()
	r.table = nil
	r.state = Recording

	log.Printf("Recording started with %d slides", set.Len())
	return nil
}

// Toggle pauses a running recording or resumes a paused one.
func (r *Recorder) Toggle() (State, error) {
	switch r.State() {
	case Recording:
		return Paused, r.Pause()
	case Paused:
		return Recording, r.Resume()
	}
	return Idle, ErrNotRecording
}

// Pause stops capturing media. The clock keeps running, so slide changes
// made after a pause are stamped with wall-clock time since Start.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return ErrNotRecording
	}
	r.capture.Pause()
	r.state = Paused
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Paused {
		return ErrNotRecording
	}
	r.capture.Resume()
	r.state = Recording
	r.engine.Render(r.engine.Current())
	return nil
}

// GoTo moves to slide i and stamps the change.
func (r *Recorder) GoTo(ctx context.Context, i int) bool {
	return r.navigate(ctx, func(ctx context.Context) bool { return r.engine.GoTo(ctx, i) })
}

// Next moves to the following slide and stamps the change.
func (r *Recorder) Next(ctx context.Context) bool {
	return r.navigate(ctx, r.engine.Next)
}

// Prev moves to the preceding slide and stamps the change.
func (r *Recorder) Prev(ctx context.Context) bool {
	return r.navigate(ctx, r.engine.Prev)
}

func (r *Recorder) navigate(ctx context.Context, move func(context.Context) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Idle {
		return false
	}
	if !move(ctx) {
		return false
	}
	elapsed := int(r.now().Sub(r.started) / time.Second)
	r.table.Append(elapsed, r.engine.Current())
	return true
}

// WriteRTP feeds a captured audio packet. Packets arriving while paused are
// dropped.
func (r *Recorder) WriteRTP(packet *rtp.Packet) error {
	r.mu.Lock()
	capture := r.capture
	state := r.state
	r.mu.Unlock()

	if state == Idle {
		return ErrNotRecording
	}
	return capture.WriteRTP(packet)
}

// Stop finalizes the media and freezes the timeline. The next Start begins
// a new recording.
func (r *Recorder) Stop() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Idle {
		return nil, ErrNotRecording
	}

	data, err := r.capture.Stop()
	r.stream.Release()
	result := &Result{
		Media:     data,
		MediaName: MediaName,
		Timeline:  r.table,
		Slides:    r.refs,
	}

	r.state = Idle
	r.stream = nil
	r.capture = nil
	r.table = nil
	r.refs = nil

	if err != nil {
		return nil, fmt.Errorf("stop recording: %w", err)
	}
	log.Printf("Recording stopped, %d timeline entries", len(result.Timeline))
	return result, nil
}
