package repository

import (
	"context"
	"time"

	"xray-inference/internal/domain/model"
)

// JobQueue is an at-least-once work queue. Jobs handed out by Dequeue stay
// in-flight until they are acked, retried or dead-lettered.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.Job) error
	// Dequeue blocks up to wait. It returns domain.ErrQueueEmpty on timeout.
	Dequeue(ctx context.Context, wait time.Duration) (*model.Job, error)
	Ack(ctx context.Context, job *model.Job) error
	Retry(ctx context.Context, job *model.Job) error
	DeadLetter(ctx context.Context, job *model.Job) error
	// RecoverInFlight re-queues jobs a previous run of this consumer left behind.
	RecoverInFlight(ctx context.Context) (int, error)
}
