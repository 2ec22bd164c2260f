// Package media provides the local capture stream a teacher broadcasts and
// the recorder captures.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrDeviceUnavailable is returned when capture devices cannot be acquired.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Source acquires a local capture stream.
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Stream, error)

func (f SourceFunc) Acquire(ctx context.Context) (*Stream, error) { return f(ctx) }

// Stream is a set of local tracks owned by one session.
type Stream struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample

	once      sync.Once
	onRelease func()
}

// NewStream wraps already created tracks. onRelease runs once on Release.
func NewStream(audio, video *webrtc.TrackLocalStaticSample, onRelease func()) *Stream {
	return &Stream{Audio: audio, Video: video, onRelease: onRelease}
}

// Tracks returns the tracks to attach to a peer connection.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	return tracks
}

// Release gives the devices back. Safe to call more than once.
func (s *Stream) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// Microphone creates an Opus audio track, and a VP8 video track when Video is
// set. Samples are written to the tracks by whatever feeds the device.
type Microphone struct {
	ID    string
	Video bool
}

func (m Microphone) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	id := m.ID
	if id == "" {
		id = "local"
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		fmt.Sprintf("audio-%s", id),
		fmt.Sprintf("stream-%s", id),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrDeviceUnavailable, err)
	}

	var video *webrtc.TrackLocalStaticSample
	if m.Video {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			fmt.Sprintf("video-%s", id),
			fmt.Sprintf("stream-%s", id),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: video track: %v", ErrDeviceUnavailable, err)
		}
	}

	return NewStream(audio, video, nil), nil
}
