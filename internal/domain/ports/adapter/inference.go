package adapter

import (
	"context"
	"io"
)

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// ObjectStore fetches raw bytes from object storage.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ImagePreparer turns an encoded image into the model's input tensor.
type ImagePreparer interface {
	Prepare(r io.Reader) (Tensor, error)
}

// Model is a loaded, read-only classifier. Safe for concurrent use.
type Model interface {
	// Anchors returns the bound input and output tensor names.
	Anchors() (input, output string)
	// Predict returns one softmax row for a single-image batch.
	Predict(ctx context.Context, in Tensor) ([]float32, error)
}

// ModelLoader performs the expensive construction sequence of a Model.
type ModelLoader interface {
	Load(ctx context.Context) (Model, error)
}
