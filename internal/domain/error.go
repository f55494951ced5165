package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidJob       = errors.New("job requires uid and image_name")
	ErrQueueEmpty       = errors.New("job queue empty")
	ErrQueueFull        = errors.New("worker queue full")
	ErrModelNotReady    = errors.New("model is not loaded in this process")
	ErrInvalidScores    = errors.New("model returned an unexpected number of scores")
	ErrUnsupportedImage = errors.New("unsupported image")

	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
