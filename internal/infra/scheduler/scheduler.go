package scheduler

import (
	"context"
	"time"

	"xray-inference/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Scheduler runs a Task every interval, each run bounded by a timeout.
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	log      *zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler defaults interval to 1 minute; timeout is capped at interval.
func NewScheduler(name string, interval time.Duration, task Task, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := 30 * time.Second
	if timeout > interval {
		timeout = interval
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		log:      logging.Component(logger, "Scheduler"),
		done:     make(chan struct{}),
	}
}

// Start runs the task once immediately, then on every tick. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Debug().Str("task", s.name).Dur("interval", s.interval).Msg("scheduler started")
	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.task(runCtx); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Str("task", s.name).Msg("scheduled task failed")
	}
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = make(chan struct{})
}
