// Package signaling carries live-session signaling messages over a named
// publish/subscribe topic. Delivery is best effort: no acknowledgment, retry,
// reordering or deduplication happens at this layer.
package signaling

import (
	"context"
	"errors"
)

// ChannelPrefix is prepended to a class ID to form its channel name.
const ChannelPrefix = "live-"

var (
	ErrNotSubscribed = errors.New("not subscribed to topic")
	ErrClosed        = errors.New("transport closed")
)

// ChannelName returns the signaling channel of a class, e.g. "live-300".
func ChannelName(classID string) string {
	return ChannelPrefix + classID
}

// Transport is a named publish/subscribe medium.
type Transport interface {
	// Publish sends payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe calls deliver once per payload published on topic until the
	// subscription is closed or ctx ends. deliver must not block.
	Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error)
}

// Subscription is an active Subscribe call.
type Subscription interface {
	Close() error
}

// Retainer keeps payloads on a topic for subscribers that join later.
type Retainer interface {
	// Retain starts a new retained list for topic holding payload when reset
	// is true. Otherwise payload is appended to the existing list, and
	// dropped when there is none.
	Retain(ctx context.Context, topic string, payload []byte, reset bool) error

	// Retained returns the retained payloads in publish order.
	Retained(ctx context.Context, topic string) ([][]byte, error)

	// Forget drops everything retained on topic.
	Forget(ctx context.Context, topic string) error
}

// closeOnDone closes sub when ctx ends.
func closeOnDone(ctx context.Context, sub Subscription, stopped <-chan struct{}) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-stopped:
		}
	}()
}
