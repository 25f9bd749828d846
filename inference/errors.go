package inference

import (
	"fmt"

	"github.com/nvr-ai/scan4stroke/preprocess"
	"github.com/pkg/errors"
)

// ErrUnavailable is returned by Infer when the service failed to load its
// assets at startup. The returned error also wraps the *AssetLoadError.
var ErrUnavailable = errors.New("inference service unavailable")

// Asset identifies one of the artifacts loaded at startup.
type Asset string

const (
	// AssetModel is the trained model artifact.
	AssetModel Asset = "model"
	// AssetMask is the GA feature-mask artifact.
	AssetMask Asset = "feature mask"
)

// AssetLoadError reports a missing or corrupt startup artifact, including an
// empty feature mask or a model that fails its startup check. It is not
// retryable.
type AssetLoadError struct {
	Asset Asset
	Path  string
	Err   error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("failed to load %s from %q: %v", e.Asset, e.Path, e.Err)
}

func (e *AssetLoadError) Unwrap() error {
	return e.Err
}

// ImageProcessingError reports a decode, grayscale, resize or select failure
// for one scan.
type ImageProcessingError = preprocess.Error

// PredictionError reports a failure inside the model invocation for one scan,
// such as a shape mismatch or a non-finite output.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed: %v", e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
