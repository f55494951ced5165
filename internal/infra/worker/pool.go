package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"xray-inference/internal/domain"
	"xray-inference/internal/infra/logging"

	"github.com/rs/zerolog"
)

// A small fixed-size worker pool. Tasks run on the context given to Start.

type Task func(ctx context.Context) error

var errNilTask = errors.New("nil task")

type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	log  *zerolog.Logger
}

// NewPool creates a pool of n workers whose buffer holds n pending tasks.
func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		jobs: make(chan Task, workers),
		quit: make(chan struct{}),
		n:    workers,
		log:  logging.Component(logger, "Pool"),
	}
}

func (p *Pool) Size() int { return p.n }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						p.log.Debug().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

// Stop waits for running tasks to return. Buffered tasks are discarded.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit never blocks; it fails with domain.ErrQueueFull when saturated.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// SubmitWait blocks until a slot frees up or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case p.jobs <- task:
		return nil
	case <-p.quit:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}
