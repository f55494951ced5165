package model

import (
	"fmt"

	"xray-inference/internal/domain"
)

type Label string

const (
	LabelNormal    Label = "normal"
	LabelPneumonia Label = "pneumonia"
	LabelCOVID19   Label = "COVID-19"
)

// Labels is ordered by the model's output index.
var Labels = [3]Label{LabelNormal, LabelPneumonia, LabelCOVID19}

// Classification is the result for one image.
type Classification struct {
	Label  Label
	Scores [3]float32
}

// ClassificationFromScores picks the argmax of a softmax row.
func ClassificationFromScores(scores []float32) (Classification, error) {
	if len(scores) != len(Labels) {
		return Classification{}, fmt.Errorf("%w: got %d", domain.ErrInvalidScores, len(scores))
	}
	var c Classification
	best := 0
	for i, s := range scores {
		c.Scores[i] = s
		if s > scores[best] {
			best = i
		}
	}
	c.Label = Labels[best]
	return c, nil
}

// Confidence renders the per-class scores the way the result callback expects them.
func (c Classification) Confidence() string {
	return fmt.Sprintf("Normal: %.3f, Pneumonia: %.3f, COVID-19: %.3f", c.Scores[0], c.Scores[1], c.Scores[2])
}

// ResourceState is the process-local readiness of the model.
type ResourceState int

const (
	ResourceUninitialized ResourceState = iota
	ResourceReady
)

func (s ResourceState) String() string {
	if s == ResourceReady {
		return "ready"
	}
	return "uninitialized"
}
