package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const (
	MsgLoadingModel = "Loading model, this may take a moment..."
	MsgModelLoaded  = "Model loaded"
)

// releaseTimeout bounds the lock release that runs after the job context may be gone.
const releaseTimeout = 5 * time.Second

// GuardOptions tunes ModelGuard.
type GuardOptions struct {
	LockName    string
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	InitTimeout time.Duration
}

type modelHandle struct{ m adapter.Model }

// ModelGuard makes sure the model is constructed at most once per process,
// and only by the worker holding the distributed init lock.
type ModelGuard struct {
	locker   repository.Locker
	loader   adapter.ModelLoader
	notifier adapter.Notifier
	opts     GuardOptions
	log      *zerolog.Logger
	now      func() time.Time

	ready  atomic.Bool
	handle atomic.Pointer[modelHandle]

	// failure bookkeeping only; never held across Load
	mu       sync.Mutex
	failures int
	retryAt  time.Time
}

func NewModelGuard(locker repository.Locker, loader adapter.ModelLoader, notifier adapter.Notifier, opts GuardOptions, logger *zerolog.Logger) *ModelGuard {
	if opts.LockName == "" {
		opts.LockName = "model_init_lock"
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	return &ModelGuard{
		locker:   locker,
		loader:   loader,
		notifier: notifier,
		opts:     opts,
		log:      logging.Component(logger, "ModelGuard"),
		now:      time.Now,
	}
}

// EnsureReady runs on every job. Once the model is ready it returns without
// touching the lock. Otherwise it makes one non-blocking attempt to become
// the initializer; losing that race is not an error.
func (g *ModelGuard) EnsureReady(ctx context.Context, uid string) error {
	if g.ready.Load() {
		return nil
	}
	l := logging.With(ctx, g.log)

	if wait := g.cooldown(); wait > 0 {
		metrics.IncModelInit("skipped_cooldown")
		l.Debug().Dur("retry_in", wait).Msg("model init cooling down after failure")
		return nil
	}

	token, err := g.locker.TryAcquire(ctx, g.opts.LockName)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", g.opts.LockName, err)
	}
	if token == "" {
		l.Debug().Str("lock", g.opts.LockName).Msg("another worker is initializing the model")
		return nil
	}
	defer g.release(ctx, token, l)

	// another goroutine may have finished between the flag check and the lock
	if g.ready.Load() {
		return nil
	}
	return g.initialize(ctx, uid, l)
}

func (g *ModelGuard) initialize(ctx context.Context, uid string, l *zerolog.Logger) error {
	g.notifier.Message(ctx, uid, MsgLoadingModel)
	l.Info().Msg("loading model")

	lctx := ctx
	if g.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, g.opts.InitTimeout)
		defer cancel()
	}

	start := time.Now()
	m, err := g.loader.Load(lctx)
	metrics.ObserveModelInit(time.Since(start))
	if err != nil {
		metrics.IncModelInit("failure")
		wait := g.recordFailure()
		l.Error().Err(err).Dur("retry_in", wait).Msg("model construction failed")
		return fmt.Errorf("load model: %w", err)
	}

	g.handle.Store(&modelHandle{m: m})
	g.ready.Store(true)
	g.resetFailures()
	metrics.IncModelInit("success")
	metrics.SetModelReady(true)

	in, out := m.Anchors()
	l.Info().Str("input", in).Str("output", out).Dur("took", time.Since(start)).Msg("model loaded")
	g.notifier.Message(ctx, uid, MsgModelLoaded)
	return nil
}

func (g *ModelGuard) release(ctx context.Context, token string, l *zerolog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := g.locker.Release(rctx, g.opts.LockName, token); err != nil {
		l.Error().Err(err).Str("lock", g.opts.LockName).Msg("failed to release init lock")
	}
}

// Model returns the published model, or nil before initialization.
func (g *ModelGuard) Model() adapter.Model {
	if h := g.handle.Load(); h != nil {
		return h.m
	}
	return nil
}

func (g *ModelGuard) State() model.ResourceState {
	if g.ready.Load() {
		return model.ResourceReady
	}
	return model.ResourceUninitialized
}

func (g *ModelGuard) cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures == 0 {
		return 0
	}
	if d := g.retryAt.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

func (g *ModelGuard) recordFailure() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	wait := g.opts.BackoffMin
	for i := 0; i < g.failures && wait < g.opts.BackoffMax; i++ {
		wait *= 2
	}
	if wait > g.opts.BackoffMax {
		wait = g.opts.BackoffMax
	}
	g.failures++
	g.retryAt = g.now().Add(wait)
	return wait
}

func (g *ModelGuard) resetFailures() {
	g.mu.Lock()
	g.failures = 0
	g.retryAt = time.Time{}
	g.mu.Unlock()
}
