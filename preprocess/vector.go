package preprocess

import (
	"github.com/nvr-ai/scan4stroke/images"
	"gorgonia.org/tensor"
)

// FeatureVector is the masked, normalized representation of one scan.
type FeatureVector struct {
	// Values holds one entry per mask index, each in [0, 1].
	Values []float32
	// Source describes the scan the vector was computed from.
	Source images.Image
}

// Len returns the number of features.
func (v *FeatureVector) Len() int {
	return len(v.Values)
}

// Shape returns the model input shape (batch, sequence, features).
func (v *FeatureVector) Shape() tensor.Shape {
	return tensor.Shape{1, 1, len(v.Values)}
}

// Tensor reshapes the vector into a (1, 1, K) float32 tensor. The tensor owns
// a copy of the values, so a model writing into it cannot alter the vector.
func (v *FeatureVector) Tensor() *tensor.Dense {
	backing := make([]float32, len(v.Values))
	copy(backing, v.Values)
	return tensor.New(tensor.WithShape(v.Shape()...), tensor.WithBacking(backing))
}
