package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisGuard(t *testing.T, window time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisGuard(client, window, zap.NewNop()), mr
}

func TestRedisGuard_MarkThenCheck(t *testing.T) {
	guard, mr := newTestRedisGuard(t, DefaultWindow)
	ctx := context.Background()

	require.False(t, guard.WasRecentlyProcessed(ctx, "rec-1"))

	guard.MarkProcessed(ctx, "rec-1")
	require.True(t, guard.WasRecentlyProcessed(ctx, "rec-1"))
	require.True(t, mr.Exists(defaultKeyPrefix+"rec-1"))

	mr.FastForward(DefaultWindow)
	require.False(t, guard.WasRecentlyProcessed(ctx, "rec-1"))
}

func TestRedisGuard_Claim(t *testing.T) {
	guard, mr := newTestRedisGuard(t, 5*time.Second)
	ctx := context.Background()

	require.True(t, guard.Claim(ctx, "rec-1"))
	require.False(t, guard.Claim(ctx, "rec-1"))
	require.Equal(t, 5*time.Second, mr.TTL(defaultKeyPrefix+"rec-1"))

	mr.FastForward(5 * time.Second)
	require.True(t, guard.Claim(ctx, "rec-1"))
}

func TestRedisGuard_Release(t *testing.T) {
	guard, mr := newTestRedisGuard(t, DefaultWindow)
	ctx := context.Background()

	require.True(t, guard.Claim(ctx, "rec-1"))
	guard.Release(ctx, "rec-1")
	require.False(t, mr.Exists(defaultKeyPrefix+"rec-1"))
	require.True(t, guard.Claim(ctx, "rec-1"))
}

func TestRedisGuard_UnreachableRedisFailsOpen(t *testing.T) {
	guard, mr := newTestRedisGuard(t, DefaultWindow)
	mr.Close()
	ctx := context.Background()

	require.False(t, guard.WasRecentlyProcessed(ctx, "rec-1"))
	require.True(t, guard.Claim(ctx, "rec-1"))
	guard.MarkProcessed(ctx, "rec-1")
	guard.Release(ctx, "rec-1")
}
