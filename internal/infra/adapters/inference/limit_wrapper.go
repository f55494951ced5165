package inference

import (
	"context"

	"xray-inference/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Model = (*limitedModel)(nil)

type limitedModel struct {
	inner adapter.Model
	sem   chan struct{}
}

// NewLimitedModel caps concurrent Predict calls against the serving backend.
func NewLimitedModel(inner adapter.Model, maxConcurrent int) adapter.Model {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedModel{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedModel) Anchors() (string, string) { return l.inner.Anchors() }

func (l *limitedModel) Predict(ctx context.Context, in adapter.Tensor) ([]float32, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Predict(ctx, in)
}

// LimitedLoader wraps every model it loads with NewLimitedModel.
type LimitedLoader struct {
	Inner         adapter.ModelLoader
	MaxConcurrent int
}

func (l LimitedLoader) Load(ctx context.Context) (adapter.Model, error) {
	m, err := l.Inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewLimitedModel(m, l.MaxConcurrent), nil
}
