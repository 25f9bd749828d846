package onnx

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// binding is the resolved input and output of the graph.
type binding struct {
	input       string
	output      string
	inputShape  ort.Shape
	outputShape ort.Shape
}

// resolveBinding picks the graph input and output to use and fixes their
// shapes for a single scan of featureCount features.
//
// Arguments:
//   - inputs: The graph inputs as reported by ort.GetInputOutputInfo.
//   - outputs: The graph outputs as reported by ort.GetInputOutputInfo.
//   - inputName: The requested input, or empty for the only input.
//   - outputName: The requested output, or empty for the first output.
//   - featureCount: The width of the feature vector.
//
// Returns:
//   - binding: The names and concrete shapes.
//   - error: An error if a name is unknown or the declared shapes do not fit.
func resolveBinding(inputs, outputs []ort.InputOutputInfo, inputName, outputName string, featureCount int) (binding, error) {
	in, err := pick(inputs, inputName, "input")
	if err != nil {
		return binding{}, err
	}
	if inputName == "" && len(inputs) > 1 {
		return binding{}, errors.Errorf("model has %d inputs; an input name is required", len(inputs))
	}
	out, err := pick(outputs, outputName, "output")
	if err != nil {
		return binding{}, err
	}

	if in.DataType != ort.TensorElementDataTypeFloat {
		return binding{}, errors.Errorf("input %q has element type %v, want float32", in.Name, in.DataType)
	}
	if out.DataType != ort.TensorElementDataTypeFloat {
		return binding{}, errors.Errorf("output %q has element type %v, want float32", out.Name, out.DataType)
	}

	inputShape, err := checkInputShape(in.Dimensions, featureCount)
	if err != nil {
		return binding{}, errors.Wrapf(err, "input %q", in.Name)
	}
	outputShape, err := concreteOutputShape(out.Dimensions)
	if err != nil {
		return binding{}, errors.Wrapf(err, "output %q", out.Name)
	}

	return binding{
		input:       in.Name,
		output:      out.Name,
		inputShape:  inputShape,
		outputShape: outputShape,
	}, nil
}

func pick(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, errors.Errorf("model declares no %s", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, errors.Errorf("model has no %s named %q", kind, name)
}

// checkInputShape requires a (batch, sequence, features) input whose feature
// axis is dynamic or equal to featureCount, and returns (1, 1, featureCount).
func checkInputShape(dims ort.Shape, featureCount int) (ort.Shape, error) {
	if len(dims) != 3 {
		return nil, errors.Errorf("expected rank 3 (batch, sequence, features), got shape %v", dims)
	}
	for i, d := range dims[:2] {
		if d != -1 && d != 1 {
			return nil, errors.Errorf("axis %d is %d, want 1 or dynamic", i, d)
		}
	}
	if d := dims[2]; d != -1 && d != int64(featureCount) {
		return nil, errors.Errorf("model expects %d features, the mask selects %d", d, featureCount)
	}
	return ort.NewShape(1, 1, int64(featureCount)), nil
}

// concreteOutputShape fixes dynamic axes to 1 and requires at least one element.
func concreteOutputShape(dims ort.Shape) (ort.Shape, error) {
	if len(dims) == 0 {
		return ort.NewShape(1), nil
	}
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		switch {
		case d == -1:
			shape[i] = 1
		case d < 1:
			return nil, errors.Errorf("axis %d has size %d", i, d)
		default:
			shape[i] = d
		}
	}
	return shape, nil
}
