package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDialTimeout = 5 * time.Second

// RedisConnection is the Redis client shared by the webhook rate limiter and
// the idempotency guard
type RedisConnection struct {
	client *redis.Client
}

// ConnectRedis parses redisURL, connects and pings before returning
func ConnectRedis(ctx context.Context, redisURL string) (*RedisConnection, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisConnection{client: client}, nil
}

// Client returns the underlying Redis client
func (c *RedisConnection) Client() *redis.Client {
	return c.client
}

// Ping reports whether Redis is reachable, for health checks
func (c *RedisConnection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *RedisConnection) Close() error {
	return c.client.Close()
}
