package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gestaobancar/pixapi/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

// Cache wraps the redis client used for short-lived payment status snapshots.
// It is best-effort: callers treat a miss and an error the same way.
type Cache struct {
	client *redis.Client
}

// New connects to the cache server configured via CACHE_HOST/CACHE_PORT.
func New() *Cache {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	if pong, err := client.Ping(context.Background()).Result(); err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}

	return &Cache{client: client}
}

// Set stores a value with the given expiration time.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close releases the client connections on shutdown.
func (c *Cache) Close() error {
	return c.client.Close()
}
