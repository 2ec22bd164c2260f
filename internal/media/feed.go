package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusClockRate = 48000

// FeedOgg plays an Ogg/Opus file into write as RTP packets, one per page,
// paced at the rate the audio was recorded. It returns nil at the end of
// the file and stops early when ctx is done or write fails.
func FeedOgg(ctx context.Context, r io.Reader, write func(*rtp.Packet) error) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("open ogg: %w", err)
	}

	var (
		seq      uint16
		previous uint64
		started  bool
	)
	for {
		payload, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}

		if !started {
			previous = header.GranulePosition
			started = true
		}
		wait := time.Duration(header.GranulePosition-previous) * time.Second / opusClockRate
		previous = header.GranulePosition
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: seq,
				Timestamp:      uint32(header.GranulePosition),
			},
			Payload: payload,
		}
		seq++
		if err := write(packet); err != nil {
			return err
		}
	}
}
