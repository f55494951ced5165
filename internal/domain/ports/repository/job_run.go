package repository

import (
	"context"

	"xray-inference/internal/domain/model"
)

type JobRunRepository interface {
	Save(ctx context.Context, tx Tx, run *model.JobRun) error
	ListRecentFailures(ctx context.Context, tx Tx, limit int) ([]*model.JobRun, error)
}
