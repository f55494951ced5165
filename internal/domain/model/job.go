package model

import (
	"strings"
	"time"

	"xray-inference/internal/domain"
)

type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetried   JobStatus = "retried"
	JobStatusDead      JobStatus = "dead"
)

// Job asks for one image to be classified on behalf of one requester.
// It is immutable once enqueued, except for Attempts which the queue bumps on redelivery.
type Job struct {
	ID          string    `msgpack:"id" json:"id"`
	RequesterID string    `msgpack:"uid" json:"uid"`
	ImageKey    string    `msgpack:"image_name" json:"image_name"`
	Attempts    int       `msgpack:"attempts" json:"attempts"`
	TraceID     string    `msgpack:"trace_id,omitempty" json:"trace_id,omitempty"`
	EnqueuedAt  time.Time `msgpack:"enqueued_at" json:"enqueued_at"`
}

// NewJob validates the two required fields. The caller assigns ID.
func NewJob(uid, imageKey string) (*Job, error) {
	uid = strings.TrimSpace(uid)
	imageKey = strings.TrimSpace(imageKey)
	if uid == "" || imageKey == "" {
		return nil, domain.ErrInvalidJob
	}
	return &Job{
		RequesterID: uid,
		ImageKey:    imageKey,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// JobRun is the outcome of one delivery of a job.
type JobRun struct {
	JobID       string
	RequesterID string
	ImageKey    string
	Status      JobStatus
	Label       Label
	Confidence  string
	Error       string
	Attempts    int
	Duration    time.Duration
	FinishedAt  time.Time
}
