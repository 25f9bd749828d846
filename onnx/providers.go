package onnx

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend represents an ONNX Runtime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA uses NVIDIA CUDA for GPU acceleration.
	BackendCUDA Backend = "cuda"
	// BackendCoreML uses Apple CoreML on macOS.
	BackendCoreML Backend = "coreml"
	// BackendOpenVINO uses Intel OpenVINO.
	BackendOpenVINO Backend = "openvino"
)

// ParseBackend maps a configuration string to a Backend. The empty string
// selects the CPU.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendCPU, nil
	case BackendCPU, BackendCUDA, BackendCoreML, BackendOpenVINO:
		return b, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", s)
	}
}

// newSessionOptions builds the options shared by every pooled session.
//
// Arguments:
//   - cfg: The model configuration.
//
// Returns:
//   - *ort.SessionOptions: The options; the caller must Destroy them.
//   - error: An error if an option or the execution provider is rejected.
func newSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "set graph optimization level")
	}

	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		options.Destroy()
		return nil, err
	}

	if err := appendProvider(options, backend, cfg.DeviceID); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func appendProvider(options *ort.SessionOptions, backend Backend, deviceID int) error {
	switch backend {
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "enable CoreML")
		}
	case BackendOpenVINO:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"device_id":   fmt.Sprintf("%d", deviceID),
		}); err != nil {
			return errors.Wrap(err, "enable OpenVINO")
		}
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA options")
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{
			"device_id": fmt.Sprintf("%d", deviceID),
		}); err != nil {
			return errors.Wrap(err, "configure CUDA")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enable CUDA")
		}
	}
	return nil
}
