package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// StateReporter exposes the process-local model state for /ready.
type StateReporter interface {
	State() model.ResourceState
}

// QueueStats reports queue depth for the ops endpoint.
type QueueStats interface {
	Len(ctx context.Context) (pending, dead int64, err error)
}

type Options struct {
	Port           int
	RequestTimeout time.Duration
	// RatePerSec caps intake submissions; 0 disables the cap.
	RatePerSec float64
}

type Server struct {
	intake  usecase.IntakeUseCase
	state   StateReporter
	runs    repository.JobRunRepository
	queue   QueueStats
	auth    *Authenticator
	limiter *rate.Limiter
	opts    Options
	log     *zerolog.Logger
	server  *http.Server
}

// NewServer wires the HTTP routes. intake is nil on worker-only processes;
// state, runs and queue may be nil on intake-only ones.
func NewServer(
	intake usecase.IntakeUseCase,
	state StateReporter,
	runs repository.JobRunRepository,
	queue QueueStats,
	auth *Authenticator,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Server{
		intake:  intake,
		state:   state,
		runs:    runs,
		queue:   queue,
		auth:    auth,
		limiter: limiter,
		opts:    opts,
		log:     logging.Component(logger, "HTTP"),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	if s.intake != nil {
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.limiter), s.auth.Require)
			r.Post("/", s.handleSubmit)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Require)
		r.Get("/jobs/failures", s.handleFailures)
		r.Get("/queue", s.handleQueue)
	})
	return r
}

// Start blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
