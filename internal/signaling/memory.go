package signaling

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport and Retainer.
type MemoryTransport struct {
	mu       sync.Mutex
	subs     map[string]map[*memorySub]struct{}
	retained map[string][][]byte
}

type memorySub struct {
	t       *MemoryTransport
	topic   string
	deliver func([]byte)
	once    sync.Once
	stopped chan struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs:     make(map[string]map[*memorySub]struct{}),
		retained: make(map[string][][]byte),
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	targets := make([]*memorySub, 0, len(t.subs[topic]))
	for sub := range t.subs[topic] {
		targets = append(targets, sub)
	}
	t.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(append([]byte(nil), payload...))
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{t: t, topic: topic, deliver: deliver, stopped: make(chan struct{})}

	t.mu.Lock()
	if t.subs[topic] == nil {
		t.subs[topic] = make(map[*memorySub]struct{})
	}
	t.subs[topic][sub] = struct{}{}
	t.mu.Unlock()

	closeOnDone(ctx, sub, sub.stopped)
	return sub, nil
}

// Subscribers reports how many subscriptions topic currently has.
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[topic])
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		delete(s.t.subs[s.topic], s)
		if len(s.t.subs[s.topic]) == 0 {
			delete(s.t.subs, s.topic)
		}
		s.t.mu.Unlock()
		close(s.stopped)
	})
	return nil
}

func (t *MemoryTransport) Retain(ctx context.Context, topic string, payload []byte, reset bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reset {
		t.retained[topic] = nil
	} else if len(t.retained[topic]) == 0 {
		return nil
	}
	t.retained[topic] = append(t.retained[topic], append([]byte(nil), payload...))
	return nil
}

func (t *MemoryTransport) Retained(ctx context.Context, topic string) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.retained[topic]))
	copy(out, t.retained[topic])
	return out, nil
}

func (t *MemoryTransport) Forget(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.retained, topic)
	return nil
}
