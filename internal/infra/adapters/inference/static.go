package inference

import (
	"context"
	"math"
	"time"

	"xray-inference/internal/domain/ports/adapter"
)

var _ adapter.ModelLoader = (*StaticLoader)(nil)

// StaticLoader builds a deterministic stand-in model for local/dev runs.
// Scores depend only on mean pixel intensity.
type StaticLoader struct {
	Delay time.Duration // simulated load time
}

func NewStaticLoader(delay time.Duration) *StaticLoader {
	return &StaticLoader{Delay: delay}
}

func (l *StaticLoader) Load(ctx context.Context) (adapter.Model, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return staticModel{}, nil
}

type staticModel struct{}

func (staticModel) Anchors() (string, string) { return "input_1:0", "dense_3/Softmax:0" }

func (staticModel) Predict(ctx context.Context, in adapter.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range in.Data {
		sum += float64(v)
	}
	mean := 0.0
	if len(in.Data) > 0 {
		mean = sum / float64(len(in.Data))
	}
	logits := []float64{2 * mean, 1 - mean, math.Abs(mean - 0.5)}
	return softmax(logits), nil
}

func softmax(logits []float64) []float32 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	exp := make([]float64, len(logits))
	for i, v := range logits {
		exp[i] = math.Exp(v - max)
		sum += exp[i]
	}
	out := make([]float32, len(logits))
	for i := range exp {
		out[i] = float32(exp[i] / sum)
	}
	return out
}
