package media

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var ErrCaptureStopped = errors.New("capture is not running")

// OggCapture records Opus RTP packets into an in-memory Ogg file.
type OggCapture struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writer *oggwriter.OggWriter
	paused bool
}

// NewOggCapture starts a capture at 48kHz stereo.
func NewOggCapture() (*OggCapture, error) {
	c := &OggCapture{}
	w, err := oggwriter.NewWith(&c.buf, 48000, 2)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	c.writer = w
	return c, nil
}

// Pause drops packets until Resume.
func (c *OggCapture) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *OggCapture) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// WriteRTP appends packet unless the capture is paused.
func (c *OggCapture) WriteRTP(packet *rtp.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return ErrCaptureStopped
	}
	if c.paused {
		return nil
	}
	return c.writer.WriteRTP(packet)
}

// Stop finalizes the file and returns its bytes.
func (c *OggCapture) Stop() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return nil, ErrCaptureStopped
	}
	err := c.writer.Close()
	c.writer = nil
	if err != nil {
		return nil, fmt.Errorf("finalize ogg: %w", err)
	}
	return append([]byte(nil), c.buf.Bytes()...), nil
}
