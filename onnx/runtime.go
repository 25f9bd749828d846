package onnx

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process wide. Every open Model holds one
// reference; the last Close tears the environment down, but only when this
// package initialized it.
var environment struct {
	sync.Mutex
	refs  int
	owned bool
}

// Runtime entry points, replaced in tests.
var (
	runtimeInitialized = ort.IsInitialized
	initializeRuntime  = func(libPath string) error {
		ort.SetSharedLibraryPath(libPath)
		return ort.InitializeEnvironment()
	}
	destroyRuntime = ort.DestroyEnvironment
	statLibrary    = func(path string) error {
		_, err := os.Stat(path)
		return err
	}
)

// GetSharedLibPath returns the default onnxruntime library location for the
// current platform.
//
// Returns:
//   - string: The library path.
//   - error: An error if no build is known for this platform.
func GetSharedLibPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		switch runtime.GOARCH {
		case "arm64":
			return "third_party/onnxruntime_arm64.dylib", nil
		case "amd64":
			return "third_party/onnxruntime_amd64.dylib", nil
		}
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// acquireEnvironment initializes the runtime on first use.
func acquireEnvironment(libPath string) error {
	environment.Lock()
	defer environment.Unlock()

	if environment.refs > 0 {
		environment.refs++
		return nil
	}
	if runtimeInitialized() {
		environment.refs = 1
		environment.owned = false
		return nil
	}

	if libPath == "" {
		var err error
		if libPath, err = GetSharedLibPath(); err != nil {
			return err
		}
	}
	if err := statLibrary(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	if err := initializeRuntime(libPath); err != nil {
		return errors.Wrap(err, "initialize onnxruntime environment")
	}
	environment.refs = 1
	environment.owned = true
	return nil
}

// releaseEnvironment drops one reference and destroys the runtime with the last.
func releaseEnvironment() error {
	environment.Lock()
	defer environment.Unlock()

	if environment.refs == 0 {
		return nil
	}
	environment.refs--
	if environment.refs > 0 || !environment.owned {
		return nil
	}
	environment.owned = false
	return errors.Wrap(destroyRuntime(), "destroy onnxruntime environment")
}
