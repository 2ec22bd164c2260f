package signaling

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mossy-p/liveclass/internal/models"
)

const inboxSize = 256

// Handler is called once per received message, in the order the transport
// delivered it. Calls for one Handle never overlap.
type Handler func(env models.Envelope)

// Sender publishes a message on an already joined channel.
type Sender interface {
	Send(ctx context.Context, msg models.Message) error
}

// Adapter joins signaling channels on behalf of one participant.
type Adapter struct {
	transport Transport
	self      string
}

// NewAdapter returns an adapter for participantID. An empty ID gets a
// random one.
func NewAdapter(transport Transport, participantID string) *Adapter {
	if participantID == "" {
		participantID = uuid.New().String()
	}
	return &Adapter{transport: transport, self: participantID}
}

// ID returns the participant ID stamped on outgoing messages.
func (a *Adapter) ID() string {
	return a.self
}

// Join subscribes to channel name. Joining the same name twice yields two
// independent handles. The subscription lasts until the handle is closed or
// ctx ends.
func (a *Adapter) Join(ctx context.Context, name string, onMessage Handler) (*Handle, error) {
	var retainer Retainer
	if r, ok := a.transport.(Retainer); ok {
		retainer = r
	}

	h := &Handle{
		Name:      name,
		adapter:   a,
		retention: NewRetention(retainer, name),
		inbox:     make(chan []byte, inboxSize),
		done:      make(chan struct{}),
	}

	sub, err := a.transport.Subscribe(ctx, name, h.enqueue)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}
	h.sub = sub

	go h.dispatch(onMessage)

	// Retained messages are read after subscribing so nothing falls in the
	// gap; a message seen twice is harmless to the receivers.
	replay, err := h.retention.Replay(ctx)
	if err != nil {
		log.Printf("[%s] Failed to read retained signals on %s: %v", a.self, name, err)
	}
	for _, payload := range replay {
		h.enqueue(payload)
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Close()
			case <-h.done:
			}
		}()
	}

	return h, nil
}

// Send publishes msg on h.
func (a *Adapter) Send(ctx context.Context, h *Handle, msg models.Message) error {
	return h.Send(ctx, msg)
}

// Handle is one joined channel.
type Handle struct {
	Name string

	adapter   *Adapter
	sub       Subscription
	retention *Retention
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Send publishes msg to every subscriber of the channel. There is no
// acknowledgment.
func (h *Handle) Send(ctx context.Context, msg models.Message) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	payload, err := models.Encode(h.adapter.self, msg)
	if err != nil {
		return err
	}
	if err := h.retention.Observe(ctx, msg, payload); err != nil {
		log.Printf("[%s] Failed to retain %s on %s: %v", h.adapter.self, msg.Type(), h.Name, err)
	}
	return h.adapter.transport.Publish(ctx, h.Name, payload)
}

// Close unsubscribes. It is safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		if h.sub != nil {
			err = h.sub.Close()
		}
	})
	return err
}

func (h *Handle) enqueue(payload []byte) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.inbox <- payload:
	default:
		log.Printf("[%s] Dropping signal on %s, inbox full", h.adapter.self, h.Name)
	}
}

func (h *Handle) dispatch(onMessage Handler) {
	for {
		select {
		case <-h.done:
			return
		case payload := <-h.inbox:
			env, err := models.Decode(payload)
			if err != nil {
				log.Printf("[%s] Dropping signal on %s: %v", h.adapter.self, h.Name, err)
				continue
			}
			if env.From == h.adapter.self {
				continue
			}
			onMessage(env)
		}
	}
}
