package lesson

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix  = "lesson:"
	outboxPrefix = "outbox:"
)

var ErrNotCached = errors.New("lesson not cached")

// Cache keeps packaged artifacts by filename.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache returns a cache whose entries expire after ttl. Zero keeps them
// forever.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: cachePrefix, ttl: ttl}
}

// NewOutbox returns the queue of artifacts waiting for upload. Entries never
// expire; Flush removes them once the server has them.
func NewOutbox(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: outboxPrefix}
}

func (c *Cache) Put(ctx context.Context, filename string, data []byte) error {
	if !strings.HasSuffix(filename, ".zip") {
		return fmt.Errorf("cache %s: not a .zip artifact", filename)
	}
	if err := c.client.Set(ctx, c.prefix+filename, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", filename, err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, filename string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+filename).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("read cached %s: %w", filename, err)
	}
	return data, nil
}

// Delete drops an entry, typically once it has been uploaded.
func (c *Cache) Delete(ctx context.Context, filename string) error {
	return c.client.Del(ctx, c.prefix+filename).Err()
}

// List returns the cached artifact filenames, sorted.
func (c *Cache) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*.zip", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), c.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list cached lessons: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
