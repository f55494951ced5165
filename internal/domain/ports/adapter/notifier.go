package adapter

import (
	"context"

	"xray-inference/internal/domain/model"
)

// Notifier reports progress and results back to the requester.
// Implementations are best-effort: delivery failures are logged, never returned.
type Notifier interface {
	Message(ctx context.Context, uid, text string)
	Result(ctx context.Context, uid, imageKey string, c model.Classification)
}
