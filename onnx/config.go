package onnx

import (
	"github.com/pkg/errors"
)

// Config describes how to open the classifier with ONNX Runtime.
type Config struct {
	// ModelPath is the path to the ONNX export of the classifier.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// InputName is the graph input to feed. Empty means the model's only input.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the graph output to read. Empty means the model's first output.
	OutputName string `json:"output_name" yaml:"output_name"`
	// SharedLibPath points at the onnxruntime shared library. Empty means
	// the platform default from GetSharedLibPath.
	SharedLibPath string `json:"shared_lib_path" yaml:"shared_lib_path"`
	// Backend selects the execution provider.
	Backend Backend `json:"backend" yaml:"backend"`
	// DeviceID is the accelerator index for the CUDA and OpenVINO backends.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// PoolSize is the number of sessions, and so the number of predictions
	// that may run at once.
	PoolSize int `json:"pool_size" yaml:"pool_size"`
	// IntraOpThreads bounds the threads used inside one operator. Zero lets
	// ONNX Runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// Activation is applied to the raw model output.
	Activation Activation `json:"activation" yaml:"activation"`
}

// Validate checks the configuration without touching the runtime.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.PoolSize < 1 {
		return errors.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	if c.IntraOpThreads < 0 {
		return errors.Errorf("intra-op threads must not be negative, got %d", c.IntraOpThreads)
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := ParseActivation(string(c.Activation)); err != nil {
		return err
	}
	return nil
}
