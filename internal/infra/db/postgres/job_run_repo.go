package postgres

import (
	"context"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.JobRunRepository = (*jobRunRepo)(nil)

type jobRunRepo struct {
	pool *pgxpool.Pool
}

func NewJobRunRepo(pool *pgxpool.Pool) *jobRunRepo {
	return &jobRunRepo{pool: pool}
}

// Save records one delivery. A redelivered attempt overwrites its own row.
func (r *jobRunRepo) Save(ctx context.Context, tx repository.Tx, run *model.JobRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO job_runs (job_id, attempts, uid, image_name, status, label, confidence, error, duration_ms, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id, attempts) DO UPDATE SET
  status = EXCLUDED.status,
  label = EXCLUDED.label,
  confidence = EXCLUDED.confidence,
  error = EXCLUDED.error,
  duration_ms = EXCLUDED.duration_ms,
  finished_at = EXCLUDED.finished_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		run.JobID, run.Attempts, run.RequesterID, run.ImageKey, string(run.Status),
		string(run.Label), run.Confidence, run.Error, run.Duration.Milliseconds(), run.FinishedAt)
	return err
}

// ListRecentFailures returns retried and dead runs, newest first.
func (r *jobRunRepo) ListRecentFailures(ctx context.Context, tx repository.Tx, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT job_id, attempts, uid, image_name, status, label, confidence, error, duration_ms, finished_at
FROM job_runs
WHERE status IN ('retried', 'dead')
ORDER BY finished_at DESC
LIMIT $1;`

	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobRun
	for rows.Next() {
		var (
			run           model.JobRun
			status, label string
			durationMS    int64
		)
		if err := rows.Scan(&run.JobID, &run.Attempts, &run.RequesterID, &run.ImageKey, &status,
			&label, &run.Confidence, &run.Error, &durationMS, &run.FinishedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		run.Status = model.JobStatus(status)
		run.Label = model.Label(label)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &run)
	}
	return out, rows.Err()
}
