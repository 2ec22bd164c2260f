package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes signaling payloads with Redis PUBLISH/SUBSCRIBE so
// that several relay instances share one channel namespace.
type RedisTransport struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTransport returns a transport on client. Retained payloads expire
// after retainTTL.
func NewRedisTransport(client *redis.Client, retainTTL time.Duration) *RedisTransport {
	if retainTTL <= 0 {
		retainTTL = 24 * time.Hour
	}
	return &RedisTransport{client: client, ttl: retainTTL}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	pubsub := t.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &redisSub{pubsub: pubsub, stopped: make(chan struct{})}
	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			deliver([]byte(msg.Payload))
		}
	}()

	closeOnDone(ctx, sub, sub.stopped)
	return sub, nil
}

type redisSub struct {
	pubsub  *redis.PubSub
	once    sync.Once
	err     error
	stopped chan struct{}
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		close(s.stopped)
	})
	return s.err
}

func retainedKey(topic string) string {
	return "signal:" + topic + ":retained"
}

func (t *RedisTransport) Retain(ctx context.Context, topic string, payload []byte, reset bool) error {
	key := retainedKey(topic)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if reset {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, payload)
		} else {
			pipe.RPushX(ctx, key, payload)
		}
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("retain on %s: %w", topic, err)
	}
	return nil
}

func (t *RedisTransport) Retained(ctx context.Context, topic string) ([][]byte, error) {
	values, err := t.client.LRange(ctx, retainedKey(topic), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read retained on %s: %w", topic, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (t *RedisTransport) Forget(ctx context.Context, topic string) error {
	return t.client.Del(ctx, retainedKey(topic)).Err()
}
