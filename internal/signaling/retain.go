package signaling

import (
	"context"
	"sync"

	"github.com/mossy-p/liveclass/internal/models"
)

// Retention keeps the latest offer published on a topic, followed by the
// offerer's trickled candidates, so a student that subscribes after the
// teacher started can still negotiate. One Retention tracks one publisher.
//
// The retained offer is single use: the answer to it clears the topic, so a
// participant joining after that hears no offer and its negotiation times
// out instead of answering an offer the teacher has already settled.
type Retention struct {
	store Retainer
	topic string

	mu      sync.Mutex
	offered bool
}

// NewRetention returns nil when store is nil; a nil Retention is a no-op.
func NewRetention(store Retainer, topic string) *Retention {
	if store == nil {
		return nil
	}
	return &Retention{store: store, topic: topic}
}

// Observe records an outgoing message before it is published.
func (r *Retention) Observe(ctx context.Context, msg models.Message, payload []byte) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case models.Offer:
		r.offered = true
		return r.store.Retain(ctx, r.topic, payload, true)
	case models.Candidate:
		if r.offered {
			return r.store.Retain(ctx, r.topic, payload, false)
		}
	case models.Answer:
		return r.settle(ctx, m.NegotiationID)
	}
	return nil
}

// settle forgets the topic when negotiationID answers the retained offer.
func (r *Retention) settle(ctx context.Context, negotiationID string) error {
	retained, err := r.store.Retained(ctx, r.topic)
	if err != nil || len(retained) == 0 {
		return err
	}
	env, err := models.Decode(retained[0])
	if err != nil {
		return r.store.Forget(ctx, r.topic)
	}
	if offer, ok := env.Message.(models.Offer); ok && offer.NegotiationID == negotiationID {
		return r.store.Forget(ctx, r.topic)
	}
	return nil
}

// Replay returns what a new subscriber should see before live traffic.
func (r *Retention) Replay(ctx context.Context) ([][]byte, error) {
	if r == nil {
		return nil, nil
	}
	return r.store.Retained(ctx, r.topic)
}
