package notify

import (
	"context"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/infra/logging"

	"github.com/rs/zerolog"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier implements adapter.Notifier for local/dev runs.
// It logs messages instead of calling the front end.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{log: logging.Component(logger, "NoopNotifier")}
}

func (n *NoopNotifier) Message(ctx context.Context, uid, text string) {
	n.log.Info().Str("uid", uid).Str("message", text).Msg("[noop-notify] message")
}

func (n *NoopNotifier) Result(ctx context.Context, uid, imageKey string, c model.Classification) {
	n.log.Info().
		Str("uid", uid).
		Str("image_name", imageKey).
		Str("prediction", string(c.Label)).
		Str("confidence", c.Confidence()).
		Msg("[noop-notify] result")
}
