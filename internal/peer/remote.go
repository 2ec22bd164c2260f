package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream accumulates the tracks received from the other participant.
// The track callback is its only writer.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) add(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
}

// Tracks returns a snapshot of the received tracks.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}
