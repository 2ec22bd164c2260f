package playback

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/slides"
	"github.com/mossy-p/liveclass/internal/timeline"
)

func artifact(t *testing.T, table string) []byte {
	t.Helper()
	data, err := lesson.Encode(&lesson.Lesson{
		Metadata: lesson.Metadata{Subject: "physics", Date: "2026-04-02", Time: "10:00", Timeline: table},
		Media:    lesson.File{Name: "audio.ogg", Data: []byte("OggS")},
		Slides: []lesson.File{
			{Name: "1.png", Data: []byte("one")},
			{Name: "2.png", Data: []byte("two")},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestPlayer_OfflineReplay(t *testing.T) {
	surface := &slides.Recorder{}
	p := NewPlayer(surface, t.TempDir())
	defer p.Close()

	if err := p.OpenArtifact(artifact(t, "00:00 -> 1\n00:15 -> 2")); err != nil {
		t.Fatalf("open: %v", err)
	}

	for sec := 0; sec <= 20; sec++ {
		p.Tick(float64(sec))
		want := 0
		if sec >= 15 {
			want = 1
		}
		if p.Current() != want {
			t.Fatalf("t=%d: expected slide %d, got %d", sec, want, p.Current())
		}
	}

	data, err := os.ReadFile(surface.Showing())
	if err != nil || string(data) != "two" {
		t.Errorf("surface shows %q (%v)", data, err)
	}

	media, err := p.Media()
	if err != nil || media.Name != "audio.ogg" {
		t.Errorf("media: %+v %v", media, err)
	}
}

func TestPlayer_ManualPagingThenTick(t *testing.T) {
	p := NewPlayer(nil, t.TempDir())
	defer p.Close()
	p.OpenArtifact(artifact(t, "00:00 -> 1\n00:15 -> 2"))

	p.Next(context.Background())
	if p.Current() != 1 {
		t.Fatalf("expected slide 1, got %d", p.Current())
	}
	p.Tick(3)
	if p.Current() != 0 {
		t.Errorf("the timeline should take over on the next tick, got %d", p.Current())
	}

	p.Tick(16)
	p.Reset()
	if p.Current() != 0 {
		t.Errorf("reset left slide %d", p.Current())
	}
}

func TestPlayer_FirstSlideBeforeFirstEntry(t *testing.T) {
	p := NewPlayer(nil, t.TempDir())
	defer p.Close()
	if err := p.OpenArtifact(artifact(t, "00:10 -> 2")); err != nil {
		t.Fatalf("open: %v", err)
	}

	p.Tick(5)
	if p.Current() != 0 {
		t.Errorf("before the first entry: slide %d, want 0", p.Current())
	}
	p.Tick(11)
	if p.Current() != 1 {
		t.Errorf("after the first entry: slide %d, want 1", p.Current())
	}
}

func TestPlayer_RejectsMalformedTimeline(t *testing.T) {
	p := NewPlayer(nil, t.TempDir())
	defer p.Close()

	err := p.OpenArtifact(artifact(t, "00:15 -> 2\n00:05 -> 1"))
	if !errors.Is(err, timeline.ErrNotMonotonic) {
		t.Errorf("expected ErrNotMonotonic, got %v", err)
	}
	if _, err := p.Media(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("nothing should be open, got %v", err)
	}
}

func TestPlayer_CloseRemovesSlides(t *testing.T) {
	surface := &slides.Recorder{}
	p := NewPlayer(surface, t.TempDir())
	p.OpenArtifact(artifact(t, "00:00 -> 1"))
	shown := surface.Showing()

	p.Close()
	if _, err := os.Stat(shown); !os.IsNotExist(err) {
		t.Errorf("slide file should be gone after close: %v", err)
	}
	if surface.Showing() != "" {
		t.Errorf("surface should be cleared, shows %q", surface.Showing())
	}
}
