package onnx

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Activation post-processes the raw model output into a probability.
type Activation string

const (
	// ActivationNone passes the output through; the graph ends in a sigmoid.
	ActivationNone Activation = "none"
	// ActivationSigmoid applies the logistic function to a logit output.
	ActivationSigmoid Activation = "sigmoid"
)

// ParseActivation maps a configuration string to an Activation. The empty
// string selects ActivationNone.
func ParseActivation(s string) (Activation, error) {
	switch a := Activation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActivationNone, nil
	case ActivationNone, ActivationSigmoid:
		return a, nil
	default:
		return "", errors.Errorf("unsupported output activation %q", s)
	}
}

// Apply transforms one raw output value.
func (a Activation) Apply(v float32) float32 {
	if a == ActivationSigmoid {
		return 1 / (1 + math32.Exp(-v))
	}
	return v
}
