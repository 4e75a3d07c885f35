package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

const dlqSweepTimeout = 2 * time.Minute

// GarbageCollector periodically drops dead-lettered stats jobs that have
// outlived the retention period
type GarbageCollector struct {
	purger    DLQPurger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	clock     quartz.Clock
}

// GCOption configures a GarbageCollector
type GCOption func(*GarbageCollector)

// WithGCClock injects the clock driving the sweep ticker
func WithGCClock(clock quartz.Clock) GCOption {
	return func(gc *GarbageCollector) {
		gc.clock = clock
	}
}

// NewGarbageCollector creates a collector that sweeps purger every interval.
// A nil purger makes every sweep a no-op.
func NewGarbageCollector(purger DLQPurger, interval, retention time.Duration, logger *zap.Logger, opts ...GCOption) *GarbageCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	gc := &GarbageCollector{
		purger:    purger,
		interval:  interval,
		retention: retention,
		logger:    logger,
		clock:     quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(gc)
	}
	return gc
}

// Start sweeps on every tick until ctx is cancelled and returns ctx.Err().
// A failed sweep is logged and retried on the next tick.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	ticker := gc.clock.NewTicker(gc.interval, "dlq_gc")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := gc.sweep(ctx); err != nil {
				gc.logger.Warn("dlq_gc_failed", zap.Error(err))
			}
		}
	}
}

func (gc *GarbageCollector) sweep(ctx context.Context) (int, error) {
	if gc.purger == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, dlqSweepTimeout)
	defer cancel()

	purged, err := gc.purger.PurgeOlderThan(ctx, gc.retention)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-lettered jobs: %w", err)
	}
	if purged > 0 {
		gc.logger.Info("dlq_gc_purged",
			zap.Int("purged", purged),
			zap.Duration("retention", gc.retention),
		)
	}
	return purged, nil
}
