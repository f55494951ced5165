package usecase

import (
	"context"
	"fmt"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ IntakeUseCase = (*intakeUC)(nil)

type IntakeUseCase interface {
	// Submit validates and enqueues a job. It does not wait for processing.
	Submit(ctx context.Context, uid, imageKey, traceID string) (*model.Job, error)
}

type intakeUC struct {
	queue repository.JobQueue
	log   *zerolog.Logger
}

func NewIntakeUseCase(queue repository.JobQueue, logger *zerolog.Logger) *intakeUC {
	return &intakeUC{queue: queue, log: logging.Component(logger, "IntakeUseCase")}
}

func (u *intakeUC) Submit(ctx context.Context, uid, imageKey, traceID string) (*model.Job, error) {
	job, err := model.NewJob(uid, imageKey)
	if err != nil {
		metrics.IncIntake("invalid")
		return nil, err
	}
	job.ID = ulid.Make().String()
	job.TraceID = traceID

	if err := u.queue.Enqueue(ctx, job); err != nil {
		metrics.IncIntake("error")
		logging.With(ctx, u.log).Error().Err(err).Str("image", job.ImageKey).Msg("enqueue failed")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.IncIntake("accepted")
	logging.With(ctx, u.log).Info().
		Str("job_id", job.ID).
		Str("uid", job.RequesterID).
		Str("image", job.ImageKey).
		Msg("job enqueued")
	return job, nil
}
