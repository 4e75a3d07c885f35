// Package repository persists employee, team and org statistics into a
// recordstore.Store. Writes are merge-writes guarded by a version
// precondition and confirmed by polling the eventually consistent read path.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/recordstore"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

var (
	// ErrRepositoryUnavailable is returned when the record store keeps failing after retries
	ErrRepositoryUnavailable = errors.New("stats repository unavailable")
	// ErrPropagationTimeout is returned when a write was accepted but never became visible to reads
	ErrPropagationTimeout = errors.New("stats write not visible within propagation budget")
	// ErrMalformedStoredData marks a stored substructure that could not be decoded
	ErrMalformedStoredData = errors.New("malformed stored stats data")
)

const (
	CollectionEmployee = "employee_stats"
	CollectionTeam     = "team_stats"
	CollectionOrg      = "org_stats"
)

const (
	defaultPropagationAttempts = 5
	defaultPropagationInterval = time.Second
	defaultRetryInterval       = 100 * time.Millisecond
	defaultMaxRetries          = 4
	defaultConflictRetries     = 8
)

type options struct {
	clock               quartz.Clock
	propagationAttempts int
	propagationInterval time.Duration
	retryInterval       time.Duration
	maxRetries          int
	conflictRetries     int
}

// Option configures a stats repository
type Option func(*options)

// WithClock sets the clock used to stamp computed_at and evaluate streaks
func WithClock(clock quartz.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithPropagation sets the read-after-write polling budget
func WithPropagation(attempts int, interval time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.propagationAttempts = attempts
		}
		if interval >= 0 {
			o.propagationInterval = interval
		}
	}
}

// WithRetry sets the backoff used for transient store failures
func WithRetry(initialInterval time.Duration, maxRetries int) Option {
	return func(o *options) {
		if initialInterval > 0 {
			o.retryInterval = initialInterval
		}
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
	}
}

// WithConflictRetries bounds the compare-and-set loop
func WithConflictRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.conflictRetries = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock:               quartz.NewReal(),
		propagationAttempts: defaultPropagationAttempts,
		propagationInterval: defaultPropagationInterval,
		retryInterval:       defaultRetryInterval,
		maxRetries:          defaultMaxRetries,
		conflictRetries:     defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// levelStore holds the store plumbing shared by the three level repositories
type levelStore struct {
	store      recordstore.Store
	collection string
	level      models.Level
	logger     *zap.Logger
	opts       options
}

func newLevelStore(store recordstore.Store, collection string, level models.Level, logger *zap.Logger, opts []Option) *levelStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &levelStore{
		store:      store,
		collection: collection,
		level:      level,
		logger:     logger.With(zap.String("level", string(level))),
		opts:       newOptions(opts),
	}
}

func (s *levelStore) now() time.Time {
	return s.opts.clock.Now().UTC()
}

func (s *levelStore) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.retryInterval
	b.MaxInterval = 20 * s.opts.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// clockTimer drives backoff waits from the repository clock
type clockTimer struct {
	clock quartz.Clock
	timer *quartz.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d, "repository", "retry")
		return
	}
	t.timer.Reset(d, "repository", "retry")
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}

func isPermanent(err error) bool {
	return errors.Is(err, recordstore.ErrNotFound) ||
		errors.Is(err, recordstore.ErrDuplicate) ||
		errors.Is(err, recordstore.ErrVersionConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retry runs op with exponential backoff. Store sentinels are returned as-is,
// anything else that survives the budget becomes ErrRepositoryUnavailable.
func (s *levelStore) retry(ctx context.Context, operation string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.opts.maxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		s.logger.Debug("stats_store_retry",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, b, nil, &clockTimer{clock: s.opts.clock})
	if err == nil || isPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrRepositoryUnavailable, operation, attempt, err)
}

// find returns the published record for recordID, falling back to a query on
// subject_id. It returns nil without error when nothing exists yet.
func (s *levelStore) find(ctx context.Context, recordID, subjectID string) (*recordstore.Record, error) {
	var rec *recordstore.Record
	err := s.retry(ctx, "fetch", func() error {
		found, err := s.store.FetchByID(ctx, s.collection, recordID)
		if err == nil {
			rec = found
			return nil
		}
		if !errors.Is(err, recordstore.ErrNotFound) {
			return err
		}
		if subjectID == "" {
			return nil
		}
		records, err := s.store.Query(ctx, s.collection, fieldSubjectID, subjectID)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			rec = records[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// getOrCreateRecord returns the subject's record, creating and publishing a
// zero-valued one under recordID when none exists.
func (s *levelStore) getOrCreateRecord(ctx context.Context, recordID, subjectID string, initial recordstore.Fields) (*recordstore.Record, error) {
	rec, err := s.find(ctx, recordID, subjectID)
	if err != nil || rec != nil {
		return rec, err
	}

	created := false
	err = s.retry(ctx, "create", func() error {
		if _, err := s.store.Create(ctx, s.collection, recordID, initial); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil && !errors.Is(err, recordstore.ErrDuplicate) {
		return nil, err
	}

	// Publishing a racer's draft is harmless; it only holds the zero record or later merges.
	if err := s.publish(ctx, recordID); err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("stats_record_created", zap.String("record_id", recordID))
		return s.initialRecord(recordID, initial), nil
	}

	// Another writer created it first; its publish may still be propagating.
	s.logger.Debug("stats_record_create_race", zap.String("record_id", recordID))
	rec, err = s.awaitVersion(ctx, recordID, 1)
	if errors.Is(err, ErrPropagationTimeout) {
		return s.initialRecord(recordID, initial), err
	}
	return rec, err
}

func (s *levelStore) initialRecord(recordID string, initial recordstore.Fields) *recordstore.Record {
	return &recordstore.Record{
		ID:         recordID,
		Collection: s.collection,
		Fields:     initial.Clone(),
		Version:    1,
		UpdatedAt:  s.now(),
	}
}

func (s *levelStore) publish(ctx context.Context, recordID string) error {
	return s.retry(ctx, "publish", func() error {
		return s.store.Publish(ctx, s.collection, recordID)
	})
}

// awaitVersion polls the read path until recordID is visible at version or later
func (s *levelStore) awaitVersion(ctx context.Context, recordID string, version int64) (*recordstore.Record, error) {
	for attempt := 1; attempt <= s.opts.propagationAttempts; attempt++ {
		rec, err := s.store.FetchByID(ctx, s.collection, recordID)
		if err == nil && rec.Version >= version {
			return rec, nil
		}
		if err != nil && !errors.Is(err, recordstore.ErrNotFound) && isPermanent(err) {
			return nil, err
		}
		if attempt == s.opts.propagationAttempts {
			break
		}
		if err := s.sleep(ctx, s.opts.propagationInterval); err != nil {
			return nil, err
		}
	}

	s.logger.Warn("stats_propagation_timeout",
		zap.String("record_id", recordID),
		zap.Int64("version", version),
		zap.Int("attempts", s.opts.propagationAttempts),
	)
	return nil, fmt.Errorf("%w: %s/%s version %d", ErrPropagationTimeout, s.collection, recordID, version)
}

// Save merge-writes fields into the record, stamps computed_at, publishes,
// and waits until the new version is readable. A positive ifVersion makes the
// write conditional. On ErrPropagationTimeout the returned record still
// describes the accepted write.
func (s *levelStore) Save(ctx context.Context, recordID string, fields recordstore.Fields, ifVersion int64) (*recordstore.Record, error) {
	now := s.now()
	fields = fields.Clone()
	if err := fields.Set(fieldComputedAt, now); err != nil {
		return nil, err
	}

	var version int64
	err := s.retry(ctx, "update", func() error {
		v, err := s.store.Update(ctx, s.collection, recordID, fields, ifVersion)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.publish(ctx, recordID); err != nil {
		return nil, err
	}

	saved := &recordstore.Record{
		ID:         recordID,
		Collection: s.collection,
		Fields:     fields,
		Version:    version,
		UpdatedAt:  now,
	}
	if _, err := s.awaitVersion(ctx, recordID, version); err != nil {
		return saved, err
	}
	return saved, nil
}

// mutate is the compare-and-set loop: read the current record, let apply
// compute the fields to write, and write them conditioned on the version read.
// A non-nil record is returned only once a write was accepted.
func (s *levelStore) mutate(ctx context.Context, recordID, subjectID string, initial recordstore.Fields, apply func(*recordstore.Record) (recordstore.Fields, error)) (*recordstore.Record, error) {
	b := s.newBackOff()
	for attempt := 1; ; attempt++ {
		rec, err := s.getOrCreateRecord(ctx, recordID, subjectID, initial)
		if err != nil && (rec == nil || !errors.Is(err, ErrPropagationTimeout)) {
			return nil, err
		}

		fields, err := apply(rec)
		if err != nil {
			return nil, err
		}

		saved, err := s.Save(ctx, rec.ID, fields, rec.Version)
		if err == nil || errors.Is(err, ErrPropagationTimeout) {
			return saved, err
		}
		if !errors.Is(err, recordstore.ErrVersionConflict) {
			return nil, err
		}
		if attempt >= s.opts.conflictRetries {
			return nil, fmt.Errorf("gave up after %d conflicting writes to %s/%s: %w", attempt, s.collection, rec.ID, err)
		}

		s.logger.Debug("stats_version_conflict",
			zap.String("record_id", rec.ID),
			zap.Int64("version", rec.Version),
			zap.Int("attempt", attempt),
		)
		if err := s.sleep(ctx, b.NextBackOff()); err != nil {
			return nil, err
		}
	}
}

func (s *levelStore) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.opts.clock.NewTimer(d, "repository", "sleep")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
