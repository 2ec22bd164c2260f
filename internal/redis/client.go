package redis

import (
	"context"
	"fmt"

	"github.com/mossy-p/liveclass/config"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client
var ctx = context.Background()

// Connect initializes the Redis client shared by the live status handlers,
// the signaling transport and the artifact cache
func Connect(cfg config.RedisConfig) error {
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client = c
	return nil
}

// Use installs an already connected client, e.g. one backed by miniredis
func Use(c *redis.Client) {
	client = c
}

// Close closes the Redis connection
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

// GetContext returns the context for Redis operations
func GetContext() context.Context {
	return ctx
}
