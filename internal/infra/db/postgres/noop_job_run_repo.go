package postgres

import (
	"context"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"
)

var _ repository.JobRunRepository = NoopJobRunRepo{}

// NoopJobRunRepo is used when no database is configured.
type NoopJobRunRepo struct{}

func (NoopJobRunRepo) Save(context.Context, repository.Tx, *model.JobRun) error { return nil }

func (NoopJobRunRepo) ListRecentFailures(context.Context, repository.Tx, int) ([]*model.JobRun, error) {
	return nil, nil
}
