package usecase

import (
	"context"
	"fmt"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/infra/metrics"
)

// ModelProvider hands out the process-local model, or nil when none is loaded.
type ModelProvider interface {
	Model() adapter.Model
}

// InferenceEngine classifies one stored image with the model published by the guard.
type InferenceEngine struct {
	store    adapter.ObjectStore
	preparer adapter.ImagePreparer
	models   ModelProvider
}

func NewInferenceEngine(store adapter.ObjectStore, preparer adapter.ImagePreparer, models ModelProvider) *InferenceEngine {
	return &InferenceEngine{store: store, preparer: preparer, models: models}
}

func (e *InferenceEngine) Classify(ctx context.Context, bucket, key string) (model.Classification, error) {
	start := time.Now()
	c, err := e.classify(ctx, bucket, key)
	metrics.ObserveInference(time.Since(start), err == nil)
	return c, err
}

func (e *InferenceEngine) classify(ctx context.Context, bucket, key string) (model.Classification, error) {
	m := e.models.Model()
	if m == nil {
		return model.Classification{}, domain.ErrModelNotReady
	}

	rc, err := e.store.GetObject(ctx, bucket, key)
	if err != nil {
		return model.Classification{}, fmt.Errorf("fetch %s/%s: %w", bucket, key, err)
	}
	defer rc.Close()

	in, err := e.preparer.Prepare(rc)
	if err != nil {
		return model.Classification{}, fmt.Errorf("prepare %s: %w", key, err)
	}

	scores, err := m.Predict(ctx, in)
	if err != nil {
		return model.Classification{}, fmt.Errorf("predict %s: %w", key, err)
	}
	return model.ClassificationFromScores(scores)
}
