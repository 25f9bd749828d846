// Package config reads the process configuration from the environment.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nvr-ai/scan4stroke/inference"
	"github.com/nvr-ai/scan4stroke/onnx"
	"github.com/nvr-ai/scan4stroke/preprocess"
	"github.com/pkg/errors"
)

// Config holds every setting of the classifier processes.
type Config struct {
	ModelPath        string        `env:"STROKE_MODEL_PATH" envDefault:"GA_BiGRU_Improved.onnx"`
	MaskPath         string        `env:"STROKE_MASK_PATH" envDefault:"GA_BiGRU_best_chromosome.npy"`
	ModelName        string        `env:"STROKE_MODEL_NAME" envDefault:"GA-BiGRU"`
	ModelInput       string        `env:"STROKE_MODEL_INPUT"`
	ModelOutput      string        `env:"STROKE_MODEL_OUTPUT"`
	OutputActivation string        `env:"STROKE_OUTPUT_ACTIVATION" envDefault:"none"`
	Provider         string        `env:"STROKE_PROVIDER" envDefault:"cpu"`
	DeviceID         int           `env:"STROKE_DEVICE_ID" envDefault:"0"`
	SessionPool      int           `env:"STROKE_SESSION_POOL" envDefault:"1"`
	IntraOpThreads   int           `env:"STROKE_INTRA_OP_THREADS" envDefault:"0"`
	Warmup           int           `env:"STROKE_WARMUP" envDefault:"1"`
	SharedLibPath    string        `env:"ONNXRUNTIME_SHARED_LIB"`
	LogLevel         string        `env:"STROKE_LOG_LEVEL" envDefault:"info"`
	Port             string        `env:"PORT" envDefault:"8080"`
	MaxUploadBytes   int64         `env:"STROKE_MAX_UPLOAD_BYTES" envDefault:"10485760"`
	CORSOrigins      []string      `env:"STROKE_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ReportInterval   time.Duration `env:"STROKE_REPORT_INTERVAL" envDefault:"1m"`
}

// Load reads an optional dotenv file and then the environment. Variables
// already set in the environment win over the file.
//
// Arguments:
//   - envFile: Path to a .env file, or empty to skip.
//
// Returns:
//   - Config: The parsed and validated configuration.
//   - error: An error if the file cannot be read or a value is invalid.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %s", envFile)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.SessionPool < 1 {
		return errors.Errorf("STROKE_SESSION_POOL must be at least 1, got %d", c.SessionPool)
	}
	if c.Warmup < 0 {
		return errors.Errorf("STROKE_WARMUP must not be negative, got %d", c.Warmup)
	}
	if c.IntraOpThreads < 0 {
		return errors.Errorf("STROKE_INTRA_OP_THREADS must not be negative, got %d", c.IntraOpThreads)
	}
	if c.ReportInterval < 0 {
		return errors.Errorf("STROKE_REPORT_INTERVAL must not be negative, got %s", c.ReportInterval)
	}
	if c.MaxUploadBytes < 1 {
		return errors.Errorf("STROKE_MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if _, err := onnx.ParseBackend(c.Provider); err != nil {
		return errors.Wrap(err, "STROKE_PROVIDER")
	}
	if _, err := onnx.ParseActivation(c.OutputActivation); err != nil {
		return errors.Wrap(err, "STROKE_OUTPUT_ACTIVATION")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Wrap(err, "STROKE_LOG_LEVEL")
	}
	return level, nil
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ONNX returns the runtime settings for the model.
func (c Config) ONNX() onnx.Config {
	backend, _ := onnx.ParseBackend(c.Provider)
	activation, _ := onnx.ParseActivation(c.OutputActivation)
	return onnx.Config{
		ModelPath:      c.ModelPath,
		InputName:      c.ModelInput,
		OutputName:     c.ModelOutput,
		SharedLibPath:  c.SharedLibPath,
		Backend:        backend,
		DeviceID:       c.DeviceID,
		PoolSize:       c.SessionPool,
		IntraOpThreads: c.IntraOpThreads,
		Activation:     activation,
	}
}

// Inference returns the startup options of the inference service.
func (c Config) Inference(logger *slog.Logger) inference.Options {
	return inference.Options{
		MaskPath:   c.MaskPath,
		ModelPath:  c.ModelPath,
		ModelName:  c.ModelName,
		Resolution: preprocess.DefaultConfig(),
		Warmup:     c.Warmup,
		Logger:     logger,
	}
}

// ModelLoader opens the model with ONNX Runtime. The path argument overrides
// the configured model path.
func (c Config) ModelLoader() inference.ModelLoader {
	return func(path string, featureCount int) (inference.Model, error) {
		cfg := c.ONNX()
		cfg.ModelPath = path
		m, err := onnx.NewModel(cfg, featureCount)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
