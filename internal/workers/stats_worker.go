package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

const defaultRetryBase = 5 * time.Second

var allLevels = []models.Level{models.LevelEmployee, models.LevelTeam, models.LevelOrg}

// LevelApplier applies a learning delta to a subset of stats levels
type LevelApplier interface {
	ApplyLevels(ctx context.Context, req cascade.Request, levels ...models.Level) (*cascade.Result, error)
}

// StatsWorker processes learning delta jobs from the queue
type StatsWorker struct {
	applier   LevelApplier
	jobQueue  queue.JobQueue // For re-enqueueing failed levels with a delay
	logger    *zap.Logger
	clock     quartz.Clock
	retryBase time.Duration
}

// WorkerOption configures a StatsWorker
type WorkerOption func(*StatsWorker)

// WithWorkerClock sets the clock used for job deadlines and delays
func WithWorkerClock(clock quartz.Clock) WorkerOption {
	return func(w *StatsWorker) {
		w.clock = clock
	}
}

// NewStatsWorker creates a new stats worker. jobQueue may be nil, in which
// case failed jobs are requeued immediately.
func NewStatsWorker(applier LevelApplier, jobQueue queue.JobQueue, logger *zap.Logger, opts ...WorkerOption) *StatsWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &StatsWorker{
		applier:   applier,
		jobQueue:  jobQueue,
		logger:    logger,
		clock:     quartz.NewReal(),
		retryBase: defaultRetryBase,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessJob processes a job based on its type
func (w *StatsWorker) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()

	if job.IsExpired(w.clock.Now()) {
		if nackErr := msg.Nack(false); nackErr != nil {
			w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("stats job %s expired", job.ID)
	}

	if job.NotBefore != nil {
		if wait := job.NotBefore.Sub(w.clock.Now()); wait > 0 {
			w.logger.Debug("stats_job_waiting",
				zap.String("job_id", job.ID.String()),
				zap.Duration("wait", wait),
			)
			if err := w.sleep(ctx, wait); err != nil {
				if nackErr := msg.Nack(true); nackErr != nil {
					w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
				}
				return err
			}
		}
	}

	switch job.Type {
	case queue.JobTypeLearningDelta, queue.JobTypeCascadeLevels:
	default:
		// Unknown job type, send to DLQ
		if nackErr := msg.Nack(false); nackErr != nil {
			w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	levels := w.levelsFor(job)
	req := cascade.Request{
		Record:       job.Record,
		Action:       job.Action,
		EmployeeName: job.EmployeeName,
		TeamName:     job.TeamName,
	}
	result, err := w.applier.ApplyLevels(ctx, req, levels...)
	if err != nil {
		if errors.Is(err, cascade.ErrInvalidDelta) {
			if nackErr := msg.Nack(false); nackErr != nil {
				w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
			}
			return fmt.Errorf("rejected stats job %s: %w", job.ID, err)
		}
		return w.handleJobError(ctx, msg, job, levels, err)
	}

	if failed := failedLevels(result); len(failed) > 0 {
		return w.handleJobError(ctx, msg, job, failed, result.Err())
	}

	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack job: %w", ackErr)
	}
	w.logger.Info("processed_stats_job",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("learning_record_id", job.Record.ID),
		zap.String("action", string(job.Action)),
		zap.String("source", job.Source),
	)
	return nil
}

func failedLevels(result *cascade.Result) []models.Level {
	var failed []models.Level
	for _, level := range allLevels {
		if _, ok := result.Errors[level]; ok {
			failed = append(failed, level)
		}
	}
	return failed
}

// handleJobError retries only the failed levels, so levels that already
// applied the delta are not counted twice
func (w *StatsWorker) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, failed []models.Level, err error) error {
	if !job.CanRetry() {
		w.logger.Error("stats_job_dead_lettered",
			zap.String("job_id", job.ID.String()),
			zap.Int("retries", job.RetryCount),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false); nackErr != nil {
			w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job failed (max retries): %w", err)
	}

	retry := job.Delayed(w.clock.Now().Add(w.retryBase << job.RetryCount))
	retry.Type = queue.JobTypeCascadeLevels
	retry.Levels = failed

	if w.jobQueue != nil {
		enqueueErr := w.jobQueue.Enqueue(ctx, retry)
		if enqueueErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				w.logger.Warn("stats_job_ack_failed", zap.Error(ackErr))
			}
			w.logger.Warn("stats_job_retry_scheduled",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", retry.RetryCount),
				zap.Time("not_before", *retry.NotBefore),
				zap.Error(err),
			)
			return fmt.Errorf("job failed (will retry): %w", err)
		}
		w.logger.Warn("stats_job_reenqueue_failed", zap.Error(enqueueErr))
	}

	// A redelivery would apply the levels that already succeeded a second time
	if len(failed) < len(w.levelsFor(job)) {
		w.logger.Error("stats_job_partial_failure_dead_lettered",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false); nackErr != nil {
			w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job partially failed: %w", err)
	}

	if nackErr := msg.Nack(true); nackErr != nil {
		w.logger.Warn("stats_job_nack_failed", zap.Error(nackErr))
	}
	return fmt.Errorf("job failed (requeued): %w", err)
}

func (w *StatsWorker) levelsFor(job *queue.Job) []models.Level {
	if job.Type == queue.JobTypeCascadeLevels && len(job.Levels) > 0 {
		return job.Levels
	}
	return allLevels
}

func (w *StatsWorker) sleep(ctx context.Context, d time.Duration) error {
	timer := w.clock.NewTimer(d, "stats_worker", "not_before")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
