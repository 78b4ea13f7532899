package queue

import (
	"context"
	"time"
)

// Delivery is one received dispatch message. Exactly one of Ack or Nack must be called.
type Delivery interface {
	Ack() error
	Nack(requeue bool) error
	GetJob() *Job
}

// JobQueue dispatches generation jobs to workers. The queue table stays the source of
// truth; a lost or early message is harmless because claiming re-checks the row.
type JobQueue interface {
	// Enqueue publishes a job, delayed until job.NotBefore when set
	Enqueue(ctx context.Context, job *Job) error

	// Consume starts a consumer holding at most prefetchCount unacknowledged messages.
	// Both channels close when ctx is cancelled or the broker channel goes away.
	Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error)

	Close() error
	HealthCheck(ctx context.Context) error
}

// Purger removes entries older than a retention window and reports how many went
type Purger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)
}
