package queue

import (
	"context"
	"time"
)

// MessageInterface is a delivered stats job awaiting settlement. Exactly one
// of Ack or Nack must be called per message.
type MessageInterface interface {
	Ack() error
	// Nack with requeue false routes the job to the dead-letter queue
	Nack(requeue bool) error
	GetJob() *Job
}

// JobQueue carries learning delta and cascade retry jobs between the API
// and the stats worker
type JobQueue interface {
	// Enqueue publishes job, honoring its NotBefore delay where the broker supports it
	Enqueue(ctx context.Context, job *Job) error

	// Consume streams deliveries until ctx is cancelled. prefetchCount bounds
	// the unacknowledged jobs held by this consumer. Both channels close when
	// consumption stops.
	Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error)

	Close() error

	// HealthCheck reports whether the broker connection is usable
	HealthCheck(ctx context.Context) error
}

// DLQPurger removes dead-lettered jobs older than a retention period and
// reports how many were dropped
type DLQPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)
}
