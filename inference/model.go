// Package inference - stroke classification over a preprocessed scan.
package inference

import (
	"context"
	"sync"

	"gorgonia.org/tensor"
)

// Model is a loaded binary classifier.
//
// Predict receives a float32 tensor of shape (1, 1, K), where K is the feature
// mask length, and returns the stroke probability. Implementations must be
// safe for concurrent use; wrap one that is not with Serialize.
type Model interface {
	Predict(ctx context.Context, input tensor.Tensor) (float32, error)
	Close() error
}

// Serialize wraps a model so that at most one Predict runs at a time.
//
// Arguments:
//   - m: A model that does not support concurrent inference.
//
// Returns:
//   - Model: A model that is safe for concurrent use.
func Serialize(m Model) Model {
	return &serialModel{model: m}
}

type serialModel struct {
	mu    sync.Mutex
	model Model
}

func (s *serialModel) Predict(ctx context.Context, input tensor.Tensor) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Predict(ctx, input)
}

func (s *serialModel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Close()
}
