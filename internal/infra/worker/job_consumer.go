package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/infra/metrics"
	"xray-inference/internal/usecase"

	"github.com/rs/zerolog"
)

const (
	settleTimeout   = 10 * time.Second
	dequeueErrPause = time.Second
	maxRetryFactor  = 32
)

type ConsumerOptions struct {
	PollWait    time.Duration
	JobTimeout  time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// ModelWait is how long after enqueue a job may keep retrying while the
	// model is still loading elsewhere, without using up its attempts.
	ModelWait time.Duration
}

// JobConsumer pulls jobs off the queue and runs them on the pool.
type JobConsumer struct {
	queue repository.JobQueue
	proc  usecase.JobProcessorUseCase
	runs  repository.JobRunRepository
	pool  *Pool
	opts  ConsumerOptions
	log   *zerolog.Logger

	delayed sync.WaitGroup
}

func NewJobConsumer(
	queue repository.JobQueue,
	proc usecase.JobProcessorUseCase,
	runs repository.JobRunRepository,
	pool *Pool,
	opts ConsumerOptions,
	log *zerolog.Logger,
) *JobConsumer {
	if opts.PollWait <= 0 {
		opts.PollWait = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &JobConsumer{
		queue: queue,
		proc:  proc,
		runs:  runs,
		pool:  pool,
		opts:  opts,
		log:   logging.Component(log, "JobConsumer"),
	}
}

// Start blocks until ctx is done. Jobs dequeued but not settled at shutdown
// stay in this consumer's in-flight list and are recovered on the next start.
func (c *JobConsumer) Start(ctx context.Context) error {
	n, err := c.queue.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Warn().Int("count", n).Msg("re-queued jobs left in flight by a previous run")
	}
	c.log.Info().Int("workers", c.pool.Size()).Msg("job consumer started")

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("job consumer stopping")
			return nil
		}
		job, err := c.queue.Dequeue(ctx, c.opts.PollWait)
		if errors.Is(err, domain.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, dequeueErrPause)
			continue
		}

		j := job
		if err := c.pool.SubmitWait(ctx, func(ctx context.Context) error { return c.handle(ctx, j) }); err != nil {
			c.log.Info().Str("job_id", j.ID).Msg("shutdown before dispatch, job left in flight")
			return nil
		}
	}
}

func (c *JobConsumer) handle(ctx context.Context, job *model.Job) error {
	ctx = logging.WithTraceID(ctx, job.TraceID)
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithUID(ctx, job.RequesterID)
	l := logging.With(ctx, c.log)

	jctx := ctx
	if c.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	cls, procErr := c.proc.Process(jctx, job)
	took := time.Since(start)

	if procErr != nil && ctx.Err() != nil {
		l.Info().Err(procErr).Msg("interrupted by shutdown, job left in flight")
		return procErr
	}

	run := &model.JobRun{
		JobID:       job.ID,
		RequesterID: job.RequesterID,
		ImageKey:    job.ImageKey,
		Attempts:    job.Attempts + 1,
		Duration:    took,
	}

	// settling must survive shutdown so the job does not run twice
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var settleErr error
	switch {
	case procErr == nil:
		run.Status = model.JobStatusCompleted
		run.Label = cls.Label
		run.Confidence = cls.Confidence()
		settleErr = c.queue.Ack(sctx, job)
	case c.shouldRetry(job, procErr):
		run.Status = model.JobStatusRetried
		run.Error = procErr.Error()
		c.retryLater(ctx, job, c.retryDelay(job.Attempts), l)
	default:
		run.Status = model.JobStatusDead
		run.Error = procErr.Error()
		settleErr = c.queue.DeadLetter(sctx, job)
		c.proc.NotifyFailure(sctx, job)
	}
	run.FinishedAt = time.Now().UTC()

	metrics.ObserveJob(string(run.Status), took)
	ev := l.Info()
	if procErr != nil {
		ev = l.Warn().Err(procErr)
	}
	ev.Str("status", string(run.Status)).Int("attempt", run.Attempts).Dur("took", took).Msg("job finished")

	if settleErr != nil {
		l.Error().Err(settleErr).Str("status", string(run.Status)).Msg("failed to settle job in queue")
	}
	if err := c.runs.Save(sctx, repository.NoTX, run); err != nil {
		l.Error().Err(err).Msg("failed to record job run")
	}
	return procErr
}

// Drain waits for delayed retries. Call it after the pool has stopped.
func (c *JobConsumer) Drain() {
	c.delayed.Wait()
}

// retryLater re-enqueues job after delay without holding a pool slot. If the
// consumer stops first, the job stays in flight for RecoverInFlight.
func (c *JobConsumer) retryLater(ctx context.Context, job *model.Job, delay time.Duration, l *zerolog.Logger) {
	c.delayed.Add(1)
	go func() {
		defer c.delayed.Done()
		if !sleep(ctx, delay) {
			l.Info().Msg("shutdown before retry, job left in flight")
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		if err := c.queue.Retry(sctx, job); err != nil {
			l.Error().Err(err).Msg("failed to re-enqueue job")
		}
	}()
}

func (c *JobConsumer) shouldRetry(job *model.Job, err error) bool {
	if permanent(err) {
		return false
	}
	// losing the init race only means the model is not loaded yet
	if errors.Is(err, domain.ErrModelNotReady) && c.opts.ModelWait > 0 &&
		!job.EnqueuedAt.IsZero() && time.Since(job.EnqueuedAt) < c.opts.ModelWait {
		return true
	}
	return job.Attempts+1 < c.opts.MaxAttempts
}

func (c *JobConsumer) retryDelay(attempts int) time.Duration {
	if c.opts.RetryDelay <= 0 {
		return 0
	}
	factor := 1
	for i := 0; i < attempts && factor < maxRetryFactor; i++ {
		factor *= 2
	}
	return c.opts.RetryDelay * time.Duration(factor)
}

// permanent errors will not change on redelivery.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrUnsupportedImage) ||
		errors.Is(err, domain.ErrInvalidScores) ||
		errors.Is(err, domain.ErrInvalidJob)
}

// sleep reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
