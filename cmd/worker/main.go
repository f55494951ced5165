// File: cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"xray-inference/internal/config"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/adapters/inference"
	pg "xray-inference/internal/infra/db/postgres"
	"xray-inference/internal/infra/imaging"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/infra/metrics"
	"xray-inference/internal/infra/notify"
	red "xray-inference/internal/infra/redis"
	"xray-inference/internal/infra/scheduler"
	"xray-inference/internal/infra/storage"
	"xray-inference/internal/infra/web"
	"xray-inference/internal/infra/worker"
	"xray-inference/internal/usecase"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, static model, notifications logged only")
	role := flag.String("role", "all", "process role: all | intake | worker")
	flag.Parse()

	if *role != "all" && *role != "intake" && *role != "worker" {
		log.Fatalf("unknown -role %q", *role)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, *role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *role, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, role string, logger *zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	queue := red.NewJobQueue(redisClient, cfg.Queue.ConsumerID)

	depth := scheduler.NewScheduler("queue_depth", 15*time.Second, func(ctx context.Context) error {
		pending, dead, err := queue.Len(ctx)
		if err != nil {
			return err
		}
		metrics.SetQueueDepth(pending, dead)
		return nil
	}, logger)
	depth.Start(ctx)
	defer depth.Stop()

	// ---- Run log ----
	var runs repository.JobRunRepository = pg.NoopJobRunRepo{}
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		poolStats := scheduler.NewScheduler("db_pool_stats", 15*time.Second, func(context.Context) error {
			pg.PublishPoolStats(pool)
			return nil
		}, logger)
		poolStats.Start(ctx)
		defer poolStats.Stop()
		runs = pg.NewJobRunRepo(pool)
	} else {
		logger.Info().Msg("database.url not set; run log disabled")
	}

	var (
		intake usecase.IntakeUseCase
		state  web.StateReporter
		wg     sync.WaitGroup
		errc   = make(chan error, 2)
	)
	if role != "worker" {
		intake = usecase.NewIntakeUseCase(queue, logger)
	}

	// ---- Worker side ----
	var (
		pool     *worker.Pool
		consumer *worker.JobConsumer
	)
	if role != "intake" {
		notifier := newNotifier(cfg, logger)
		guard := usecase.NewModelGuard(
			red.NewLocker(redisClient, cfg.Lock.Lease),
			newModelLoader(cfg, logger),
			notifier,
			usecase.GuardOptions{
				LockName:    cfg.Lock.Name,
				BackoffMin:  cfg.Init.BackoffMin,
				BackoffMax:  cfg.Init.BackoffMax,
				InitTimeout: cfg.Init.Timeout,
			},
			logger,
		)
		state = guard
		engine := usecase.NewInferenceEngine(
			storage.NewS3Store(cfg.Storage),
			imaging.NewPreparer(cfg.Model.ImageSize),
			guard,
		)
		proc := usecase.NewJobProcessor(guard, engine, notifier, cfg.Storage.ImageBucket, logger)

		pool = worker.NewPool(cfg.Worker.Concurrency, logger)
		pool.Start(ctx)
		consumer = worker.NewJobConsumer(queue, proc, runs, pool, worker.ConsumerOptions{
			PollWait:    cfg.Queue.PollWait,
			JobTimeout:  cfg.Worker.JobTimeout,
			MaxAttempts: cfg.Queue.MaxAttempts,
			RetryDelay:  cfg.Queue.RetryDelay,
			ModelWait:   cfg.Queue.ModelWait,
		}, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil {
				errc <- fmt.Errorf("consumer: %w", err)
			}
		}()
	}

	// ---- HTTP ----
	srv := web.NewServer(intake, state, runs, queue, web.NewAuthenticator(cfg.Intake.JWTSecret), web.Options{
		Port:           cfg.HTTP.Port,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RatePerSec:     cfg.Intake.RatePerSec,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("sd_notify ready failed")
	} else if ok {
		logger.Debug().Msg("notified systemd: ready")
	}

	// ---- Wait for shutdown ----
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errc:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// in-flight jobs observe the cancelled ctx and settle before Stop returns
	wg.Wait()
	if pool != nil {
		pool.Stop()
		consumer.Drain()
	}
	return runErr
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) adapter.Notifier {
	if cfg.Notify.BaseURL == "" {
		logger.Warn().Msg("notify.base_url not set; notifications are logged only")
		return notify.NewNoopNotifier(logger)
	}
	return notify.NewHTTPNotifier(cfg.Notify.BaseURL, cfg.Notify.Timeout, cfg.Notify.RatePerSec, &http.Client{}, logger)
}

func newModelLoader(cfg *config.Config, logger *zerolog.Logger) adapter.ModelLoader {
	var inner adapter.ModelLoader
	switch cfg.Model.Runtime {
	case "static":
		logger.Warn().Msg("using the static development model")
		inner = inference.NewStaticLoader(time.Second)
	default:
		inner = inference.NewTFServingLoader(cfg.Model, &http.Client{Timeout: cfg.Model.Timeout})
	}
	return inference.LimitedLoader{Inner: inner, MaxConcurrent: cfg.Model.ConcurrentLimit}
}
