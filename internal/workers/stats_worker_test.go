package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// mockMessage is a mock implementation of queue.MessageInterface
type mockMessage struct {
	job       *queue.Job
	acked     bool
	nacked    bool
	requeued  bool
	ackErr    error
	nackCalls int
}

func (m *mockMessage) Ack() error {
	m.acked = true
	return m.ackErr
}

func (m *mockMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeued = requeue
	m.nackCalls++
	return nil
}

func (m *mockMessage) GetJob() *queue.Job {
	return m.job
}

// mockApplier is a mock implementation of LevelApplier
type mockApplier struct {
	t               *testing.T
	applyLevelsFunc func(ctx context.Context, req cascade.Request, levels ...models.Level) (*cascade.Result, error)

	// Call tracking
	calls      []cascade.Request
	levelCalls [][]models.Level
}

func (m *mockApplier) ApplyLevels(ctx context.Context, req cascade.Request, levels ...models.Level) (*cascade.Result, error) {
	m.calls = append(m.calls, req)
	m.levelCalls = append(m.levelCalls, levels)
	if m.applyLevelsFunc == nil {
		m.t.Fatal("ApplyLevels called but not configured in test - mock requires explicit setup")
	}
	return m.applyLevelsFunc(ctx, req, levels...)
}

// mockJobQueue is a mock implementation of queue.JobQueue
type mockJobQueue struct {
	enqueueFunc func(ctx context.Context, job *queue.Job) error
	enqueued    []*queue.Job
}

func (m *mockJobQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	m.enqueued = append(m.enqueued, job)
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, job)
	}
	return nil
}

func (m *mockJobQueue) Consume(context.Context, int) (<-chan *queue.Message, <-chan error, error) {
	return nil, nil, errors.New("not implemented")
}

func (m *mockJobQueue) Close() error {
	return nil
}

func (m *mockJobQueue) HealthCheck(context.Context) error {
	return nil
}

func testJob(jobType queue.JobType) *queue.Job {
	record := models.LearningRecord{ID: "rec-1", EmployeeID: "emp-1", TeamID: "team-a", Category: models.CategoryCourse, Minutes: 30, Date: "2024-01-01"}
	job := queue.NewJob(jobType, record, models.ActionAdd)
	job.EmployeeName = "Ada"
	job.TeamName = "Platform"
	return job
}

func okResult() *cascade.Result {
	return &cascade.Result{Errors: map[models.Level]error{}}
}

func TestStatsWorker_ProcessJob_Success(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return okResult(), nil
		},
	}
	worker := NewStatsWorker(applier, nil, zap.NewNop())
	msg := &mockMessage{job: testJob(queue.JobTypeLearningDelta)}

	if err := worker.ProcessJob(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !msg.acked {
		t.Error("Expected message to be acked")
	}
	if len(applier.calls) != 1 {
		t.Fatalf("Expected 1 apply call, got %d", len(applier.calls))
	}
	if applier.calls[0].EmployeeName != "Ada" || applier.calls[0].Record.ID != "rec-1" {
		t.Errorf("Expected job payload to reach the coordinator, got %+v", applier.calls[0])
	}
	if len(applier.levelCalls[0]) != 3 {
		t.Errorf("Expected all levels for a learning delta job, got %v", applier.levelCalls[0])
	}
}

func TestStatsWorker_ProcessJob_CascadeLevelsUsesJobLevels(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return okResult(), nil
		},
	}
	worker := NewStatsWorker(applier, nil, zap.NewNop())
	job := testJob(queue.JobTypeCascadeLevels)
	job.Levels = []models.Level{models.LevelTeam, models.LevelOrg}

	if err := worker.ProcessJob(context.Background(), &mockMessage{job: job}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	got := applier.levelCalls[0]
	if len(got) != 2 || got[0] != models.LevelTeam || got[1] != models.LevelOrg {
		t.Errorf("Expected team and org levels, got %v", got)
	}
}

func TestStatsWorker_ProcessJob_UnknownType(t *testing.T) {
	t.Parallel()

	worker := NewStatsWorker(&mockApplier{t: t}, nil, zap.NewNop())
	msg := &mockMessage{job: testJob(queue.JobType("bogus"))}

	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected error for unknown job type")
	}
	if !msg.nacked || msg.requeued {
		t.Error("Expected unknown job to be dead-lettered")
	}
}

func TestStatsWorker_ProcessJob_ExpiredJobDeadLettered(t *testing.T) {
	t.Parallel()

	worker := NewStatsWorker(&mockApplier{t: t}, nil, zap.NewNop())
	job := testJob(queue.JobTypeLearningDelta)
	expired := time.Now().Add(-time.Minute)
	job.NotAfter = &expired
	msg := &mockMessage{job: job}

	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected error for expired job")
	}
	if !msg.nacked || msg.requeued {
		t.Error("Expected expired job to be dead-lettered")
	}
}

func TestStatsWorker_ProcessJob_InvalidDeltaDeadLettered(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return nil, fmt.Errorf("%w: bad date", cascade.ErrInvalidDelta)
		},
	}
	jobQueue := &mockJobQueue{}
	worker := NewStatsWorker(applier, jobQueue, zap.NewNop())
	msg := &mockMessage{job: testJob(queue.JobTypeLearningDelta)}

	if err := worker.ProcessJob(context.Background(), msg); !errors.Is(err, cascade.ErrInvalidDelta) {
		t.Fatalf("Expected ErrInvalidDelta, got %v", err)
	}
	if !msg.nacked || msg.requeued {
		t.Error("Expected invalid job to be dead-lettered")
	}
	if len(jobQueue.enqueued) != 0 {
		t.Error("Expected invalid job not to be retried")
	}
}

func TestStatsWorker_ProcessJob_RetriesOnlyFailedLevels(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return &cascade.Result{Errors: map[models.Level]error{models.LevelOrg: boom}}, nil
		},
	}
	jobQueue := &mockJobQueue{}
	worker := NewStatsWorker(applier, jobQueue, zap.NewNop())
	worker.retryBase = time.Second
	job := testJob(queue.JobTypeLearningDelta)
	msg := &mockMessage{job: job}

	before := time.Now()
	err := worker.ProcessJob(context.Background(), msg)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected level error, got %v", err)
	}
	if !msg.acked {
		t.Error("Expected original message to be acked after re-enqueue")
	}
	if len(jobQueue.enqueued) != 1 {
		t.Fatalf("Expected 1 retry job, got %d", len(jobQueue.enqueued))
	}

	retry := jobQueue.enqueued[0]
	if retry.Type != queue.JobTypeCascadeLevels {
		t.Errorf("Expected retry to be a cascade levels job, got %s", retry.Type)
	}
	if len(retry.Levels) != 1 || retry.Levels[0] != models.LevelOrg {
		t.Errorf("Expected only the org level to be retried, got %v", retry.Levels)
	}
	if retry.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", retry.RetryCount)
	}
	if retry.NotBefore == nil || retry.NotBefore.Before(before.Add(time.Second)) {
		t.Errorf("Expected retry to be delayed by the retry base, got %v", retry.NotBefore)
	}
}

func TestStatsWorker_ProcessJob_MaxRetriesDeadLetters(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return &cascade.Result{Errors: map[models.Level]error{models.LevelEmployee: errors.New("down")}}, nil
		},
	}
	jobQueue := &mockJobQueue{}
	worker := NewStatsWorker(applier, jobQueue, zap.NewNop())
	job := testJob(queue.JobTypeLearningDelta)
	job.RetryCount = job.MaxRetries
	msg := &mockMessage{job: job}

	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected error")
	}
	if !msg.nacked || msg.requeued {
		t.Error("Expected job to be dead-lettered")
	}
	if len(jobQueue.enqueued) != 0 {
		t.Error("Expected no retry job")
	}
}

func TestStatsWorker_ProcessJob_NoQueueRequeuesFullFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return &cascade.Result{Errors: map[models.Level]error{
				models.LevelEmployee: boom,
				models.LevelTeam:     boom,
				models.LevelOrg:      boom,
			}}, nil
		},
	}
	worker := NewStatsWorker(applier, nil, zap.NewNop())
	msg := &mockMessage{job: testJob(queue.JobTypeLearningDelta)}

	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected error")
	}
	if !msg.nacked || !msg.requeued {
		t.Error("Expected fully failed job to be requeued")
	}
}

func TestStatsWorker_ProcessJob_NoQueuePartialFailureDeadLetters(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return &cascade.Result{Errors: map[models.Level]error{models.LevelTeam: errors.New("down")}}, nil
		},
	}
	worker := NewStatsWorker(applier, nil, zap.NewNop())
	msg := &mockMessage{job: testJob(queue.JobTypeLearningDelta)}

	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected error")
	}
	if !msg.nacked || msg.requeued {
		t.Error("Expected partially applied job not to be redelivered")
	}
}

func TestStatsWorker_ProcessJob_WaitsForNotBefore(t *testing.T) {
	t.Parallel()

	applier := &mockApplier{t: t}
	worker := NewStatsWorker(applier, nil, zap.NewNop())
	job := testJob(queue.JobTypeLearningDelta)
	notBefore := time.Now().Add(time.Hour)
	job.NotBefore = &notBefore
	msg := &mockMessage{job: job}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := worker.ProcessJob(ctx, msg); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if !msg.requeued {
		t.Error("Expected waiting job to be requeued on shutdown")
	}
	if len(applier.calls) != 0 {
		t.Error("Expected job not to be applied early")
	}
}

func TestStatsWorker_ProcessJob_NotBeforeFollowsClock(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	waitTrap := clock.Trap().NewTimer("stats_worker", "not_before")
	defer waitTrap.Close()

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return okResult(), nil
		},
	}
	worker := NewStatsWorker(applier, nil, zap.NewNop(), WithWorkerClock(clock))
	job := testJob(queue.JobTypeLearningDelta)
	notBefore := clock.Now().Add(time.Minute)
	job.NotBefore = &notBefore
	msg := &mockMessage{job: job}

	done := make(chan error, 1)
	go func() {
		done <- worker.ProcessJob(ctx, msg)
	}()

	call := waitTrap.MustWait(ctx)
	if call.Duration != time.Minute {
		t.Errorf("Expected a one minute wait, got %v", call.Duration)
	}
	call.MustRelease(ctx)
	clock.Advance(time.Minute).MustWait(ctx)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected job to be processed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("ProcessJob did not finish")
	}
	if !msg.acked || len(applier.calls) != 1 {
		t.Errorf("Expected job applied once and acked, got acked=%v calls=%d", msg.acked, len(applier.calls))
	}
}

func TestStatsWorker_ProcessJob_ExpiryAndRetryUseClock(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clock.Set(now)

	applier := &mockApplier{
		t: t,
		applyLevelsFunc: func(context.Context, cascade.Request, ...models.Level) (*cascade.Result, error) {
			return &cascade.Result{Errors: map[models.Level]error{models.LevelTeam: errors.New("down")}}, nil
		},
	}
	jobQueue := &mockJobQueue{}
	worker := NewStatsWorker(applier, jobQueue, zap.NewNop(), WithWorkerClock(clock))
	worker.retryBase = time.Second

	expired := testJob(queue.JobTypeLearningDelta)
	deadline := now.Add(-time.Minute)
	expired.NotAfter = &deadline
	expiredMsg := &mockMessage{job: expired}
	if err := worker.ProcessJob(context.Background(), expiredMsg); err == nil {
		t.Fatal("Expected expired job to fail")
	}
	if !expiredMsg.nacked || expiredMsg.requeued {
		t.Error("Expected expired job to be dead-lettered")
	}

	msg := &mockMessage{job: testJob(queue.JobTypeLearningDelta)}
	if err := worker.ProcessJob(context.Background(), msg); err == nil {
		t.Fatal("Expected level failure")
	}
	if len(jobQueue.enqueued) != 1 {
		t.Fatalf("Expected 1 retry job, got %d", len(jobQueue.enqueued))
	}
	if got := jobQueue.enqueued[0].NotBefore; got == nil || !got.Equal(now.Add(time.Second)) {
		t.Errorf("Expected retry at %v, got %v", now.Add(time.Second), got)
	}
}

func TestQueueDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	jobQueue := &mockJobQueue{}
	dispatcher := NewQueueDispatcher(jobQueue)
	req := cascade.Request{
		Record:       models.LearningRecord{ID: "rec-1", EmployeeID: "emp-1", TeamID: "team-a"},
		Action:       models.ActionRemove,
		EmployeeName: "Ada",
		TeamName:     "Platform",
	}

	if err := dispatcher.Dispatch(context.Background(), req, []models.Level{models.LevelTeam, models.LevelOrg}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(jobQueue.enqueued) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobQueue.enqueued))
	}
	job := jobQueue.enqueued[0]
	if job.Type != queue.JobTypeCascadeLevels || job.Action != models.ActionRemove || job.Source != SourceEmployeeFirst {
		t.Errorf("Unexpected job %+v", job)
	}
	if job.TeamName != "Platform" || len(job.Levels) != 2 {
		t.Errorf("Expected names and levels to be carried, got %+v", job)
	}

	jobQueue.enqueueFunc = func(context.Context, *queue.Job) error { return errors.New("closed") }
	if err := dispatcher.Dispatch(context.Background(), req, nil); err == nil {
		t.Error("Expected enqueue error to surface")
	}
}
