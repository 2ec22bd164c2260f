// Package playback replays a packaged lesson offline, keeping the slide on
// screen in step with the media position.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/slides"
)

var ErrNotOpen = errors.New("no lesson open")

// Player owns the slides of the lesson it has open.
type Player struct {
	engine *slides.Engine
	dir    string

	mu     sync.Mutex
	lesson *lesson.Lesson
}

// NewPlayer renders on surface and extracts slides under dir ("" for the
// system temp directory).
func NewPlayer(surface slides.Surface, dir string) *Player {
	return &Player{engine: slides.NewEngine(surface), dir: dir}
}

// Open loads l, replacing whatever was open. A malformed timeline is
// rejected and leaves the player unchanged.
func (p *Player) Open(l *lesson.Lesson) error {
	table, err := l.Table()
	if err != nil {
		return fmt.Errorf("open %s: %w", lesson.Filename(l.Metadata), err)
	}
	set, err := l.ExtractSlides(p.dir)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Load(set)
	p.engine.SetTimeline(table)
	p.lesson = l

	log.Printf("Opened lesson %q with %d slides and %d timeline entries", l.Metadata.Subject, set.Len(), len(table))
	return nil
}

// OpenArtifact decodes a zip artifact and opens it.
func (p *Player) OpenArtifact(data []byte) error {
	l, err := lesson.Decode(data)
	if err != nil {
		return err
	}
	return p.Open(l)
}

// Media returns the media file of the open lesson.
func (p *Player) Media() (lesson.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lesson == nil {
		return lesson.File{}, ErrNotOpen
	}
	return p.lesson.Media, nil
}

// Tick is called on every media position update.
func (p *Player) Tick(sec float64) {
	p.engine.Tick(sec)
}

// Reset shows the first slide, as when the media restarts.
func (p *Player) Reset() {
	p.engine.Reset()
}

// Next and Prev let the viewer page manually. The very next Tick re-applies
// the timeline entry at or before the media position, so manual paging only
// lasts until then.
func (p *Player) Next(ctx context.Context) bool { return p.engine.Next(ctx) }
func (p *Player) Prev(ctx context.Context) bool { return p.engine.Prev(ctx) }

func (p *Player) Current() int {
	return p.engine.Current()
}

func (p *Player) Slides() *slides.Engine {
	return p.engine
}

// Close releases the extracted slides.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Unload()
	p.lesson = nil
}
