package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

var _ repository.JobQueue = (*JobQueue)(nil)

// JobQueue is a reliable-list queue: Dequeue atomically moves a job into a
// per-consumer in-flight list, so a crash between dequeue and ack leaves the
// job recoverable instead of lost.
type JobQueue struct {
	client   *Client
	pending  string
	inflight string
	dead     string

	mu  sync.Mutex
	raw map[string]string // job id -> payload as stored in the in-flight list
}

func NewJobQueue(c *Client, consumerID string) *JobQueue {
	return &JobQueue{
		client:   c,
		pending:  c.key("jobs"),
		inflight: c.key("jobs:inflight:" + consumerID),
		dead:     c.key("jobs:dead"),
		raw:      make(map[string]string),
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job *model.Job) error {
	b, err := msgpack.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.cli.LPush(ctx, q.pending, b).Err()
}

func (q *JobQueue) Dequeue(ctx context.Context, wait time.Duration) (*model.Job, error) {
	payload, err := q.client.cli.BRPopLPush(ctx, q.pending, q.inflight, wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrQueueEmpty
		}
		return nil, err
	}
	var job model.Job
	if err := msgpack.Unmarshal([]byte(payload), &job); err != nil {
		// Undecodable payloads would loop forever; park them.
		pipe := q.client.cli.TxPipeline()
		pipe.LRem(ctx, q.inflight, 1, payload)
		pipe.LPush(ctx, q.dead, payload)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("decode job: %w", err)
	}
	q.mu.Lock()
	q.raw[job.ID] = payload
	q.mu.Unlock()
	return &job, nil
}

func (q *JobQueue) Ack(ctx context.Context, job *model.Job) error {
	payload, err := q.take(job)
	if err != nil {
		return err
	}
	return q.client.cli.LRem(ctx, q.inflight, 1, payload).Err()
}

// Retry puts the job at the back of the pending list with Attempts bumped.
func (q *JobQueue) Retry(ctx context.Context, job *model.Job) error {
	payload, err := q.take(job)
	if err != nil {
		return err
	}
	next := *job
	next.Attempts++
	b, err := msgpack.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	pipe := q.client.cli.TxPipeline()
	pipe.LRem(ctx, q.inflight, 1, payload)
	pipe.LPush(ctx, q.pending, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	job.Attempts = next.Attempts
	return nil
}

func (q *JobQueue) DeadLetter(ctx context.Context, job *model.Job) error {
	payload, err := q.take(job)
	if err != nil {
		return err
	}
	pipe := q.client.cli.TxPipeline()
	pipe.LRem(ctx, q.inflight, 1, payload)
	pipe.LPush(ctx, q.dead, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *JobQueue) RecoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.cli.RPopLPush(ctx, q.inflight, q.pending).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Len reports pending and dead-lettered job counts.
func (q *JobQueue) Len(ctx context.Context) (pending, dead int64, err error) {
	pipe := q.client.cli.Pipeline()
	p := pipe.LLen(ctx, q.pending)
	d := pipe.LLen(ctx, q.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return p.Val(), d.Val(), nil
}

// take returns the stored payload for an in-flight job, falling back to
// re-encoding it when this process did not dequeue it.
func (q *JobQueue) take(job *model.Job) (string, error) {
	q.mu.Lock()
	payload, ok := q.raw[job.ID]
	delete(q.raw, job.ID)
	q.mu.Unlock()
	if ok {
		return payload, nil
	}
	b, err := msgpack.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}
