package usecase

import (
	"context"
	"fmt"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobProcessorUseCase = (*JobProcessor)(nil)

type JobProcessorUseCase interface {
	Process(ctx context.Context, job *model.Job) (model.Classification, error)
	NotifyFailure(ctx context.Context, job *model.Job)
}

type ReadinessGuard interface {
	EnsureReady(ctx context.Context, uid string) error
}

type Classifier interface {
	Classify(ctx context.Context, bucket, key string) (model.Classification, error)
}

func StartingMessage(imageKey string) string {
	return "Starting analysis of image: " + imageKey
}

func FailureMessage(imageKey string) string {
	return "Analysis failed for image: " + imageKey
}

// JobProcessor runs one delivery of a job: readiness, start notice,
// classification, result notice.
type JobProcessor struct {
	guard    ReadinessGuard
	engine   Classifier
	notifier adapter.Notifier
	bucket   string
	log      *zerolog.Logger
}

func NewJobProcessor(guard ReadinessGuard, engine Classifier, notifier adapter.Notifier, imageBucket string, logger *zerolog.Logger) *JobProcessor {
	return &JobProcessor{
		guard:    guard,
		engine:   engine,
		notifier: notifier,
		bucket:   imageBucket,
		log:      logging.Component(logger, "JobProcessor"),
	}
}

func (p *JobProcessor) Process(ctx context.Context, job *model.Job) (model.Classification, error) {
	l := logging.With(ctx, p.log)
	defer logging.TraceDuration(l, "JobProcessor.Process")()

	if err := p.guard.EnsureReady(ctx, job.RequesterID); err != nil {
		return model.Classification{}, fmt.Errorf("ensure model: %w", err)
	}

	p.notifier.Message(ctx, job.RequesterID, StartingMessage(job.ImageKey))

	c, err := p.engine.Classify(ctx, p.bucket, job.ImageKey)
	if err != nil {
		return model.Classification{}, fmt.Errorf("classify: %w", err)
	}
	l.Info().Str("image", job.ImageKey).Str("label", string(c.Label)).Msg("image classified")

	p.notifier.Result(ctx, job.RequesterID, job.ImageKey, c)
	return c, nil
}

// NotifyFailure tells the requester a job has been given up on.
func (p *JobProcessor) NotifyFailure(ctx context.Context, job *model.Job) {
	p.notifier.Message(ctx, job.RequesterID, FailureMessage(job.ImageKey))
}
