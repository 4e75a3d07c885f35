package workers

import (
	"context"
	"fmt"

	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/models"
	"github.com/benvon/learning-stats/internal/queue"
)

// SourceEmployeeFirst tags jobs carrying levels deferred by the synchronous path
const SourceEmployeeFirst = "employee_first"

// QueueDispatcher hands backgrounded cascade levels to the job queue
type QueueDispatcher struct {
	jobQueue queue.JobQueue
}

// NewQueueDispatcher creates a dispatcher publishing to jobQueue
func NewQueueDispatcher(jobQueue queue.JobQueue) *QueueDispatcher {
	return &QueueDispatcher{jobQueue: jobQueue}
}

// Dispatch implements cascade.Dispatcher
func (d *QueueDispatcher) Dispatch(ctx context.Context, req cascade.Request, levels []models.Level) error {
	job := queue.NewJob(queue.JobTypeCascadeLevels, req.Record, req.Action)
	job.EmployeeName = req.EmployeeName
	job.TeamName = req.TeamName
	job.Levels = append([]models.Level(nil), levels...)
	job.Source = SourceEmployeeFirst

	if err := d.jobQueue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue cascade levels: %w", err)
	}
	return nil
}

var _ cascade.Dispatcher = (*QueueDispatcher)(nil)
