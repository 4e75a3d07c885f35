package idempotency

import (
	"context"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "learning-stats:processed:"

// RedisGuard is a Guard shared by every instance pointing at the same Redis.
// Keys expire after the window so no eviction pass is needed. Redis errors
// are logged and treated as "not processed".
type RedisGuard struct {
	client redis.Cmdable
	window time.Duration
	prefix string
	clock  quartz.Clock
	logger *zap.Logger
}

// NewRedisGuard creates a Redis-backed guard
func NewRedisGuard(client redis.Cmdable, window time.Duration, logger *zap.Logger) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{
		client: client,
		window: window,
		prefix: defaultKeyPrefix,
		clock:  quartz.NewReal(),
		logger: logger,
	}
}

func (g *RedisGuard) key(id string) string {
	return g.prefix + id
}

func (g *RedisGuard) stamp() string {
	return strconv.FormatInt(g.clock.Now().UnixMilli(), 10)
}

// WasRecentlyProcessed implements Guard
func (g *RedisGuard) WasRecentlyProcessed(ctx context.Context, id string) bool {
	n, err := g.client.Exists(ctx, g.key(id)).Result()
	if err != nil {
		g.logger.Warn("idempotency_check_failed", zap.String("record_id", id), zap.Error(err))
		return false
	}
	return n > 0
}

// MarkProcessed implements Guard
func (g *RedisGuard) MarkProcessed(ctx context.Context, id string) {
	if err := g.client.Set(ctx, g.key(id), g.stamp(), g.window).Err(); err != nil {
		g.logger.Warn("idempotency_mark_failed", zap.String("record_id", id), zap.Error(err))
	}
}

// Claim implements Guard using SET NX PX
func (g *RedisGuard) Claim(ctx context.Context, id string) bool {
	ok, err := g.client.SetNX(ctx, g.key(id), g.stamp(), g.window).Result()
	if err != nil {
		g.logger.Warn("idempotency_claim_failed", zap.String("record_id", id), zap.Error(err))
		return true
	}
	return ok
}

// Release implements Guard
func (g *RedisGuard) Release(ctx context.Context, id string) {
	if err := g.client.Del(ctx, g.key(id)).Err(); err != nil {
		g.logger.Warn("idempotency_release_failed", zap.String("record_id", id), zap.Error(err))
	}
}

var _ Guard = (*RedisGuard)(nil)
