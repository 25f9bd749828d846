package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Service classifies scans. It is either ready, holding a loaded Context, or
// unavailable, holding the startup error; an unavailable service rejects
// every call with ErrUnavailable.
//
// Infer is safe for concurrent use as long as the Context's model is.
type Service struct {
	ctx    *Context
	err    error
	assets []AssetRef
	logger *slog.Logger
	now    func() time.Time
}

// AssetRef names a required artifact and where it is expected.
type AssetRef struct {
	Asset Asset  `json:"asset"`
	Path  string `json:"path"`
}

// NewService creates a ready service around a loaded context.
func NewService(c *Context, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ctx: c, logger: logger, now: time.Now}
}

// Unavailable creates a service that reports err and rejects every call.
//
// Arguments:
//   - err: The startup failure, typically an *AssetLoadError.
//   - assets: The artifacts the service needs, reported to callers.
//   - logger: The logger, or nil for slog.Default().
//
// Returns:
//   - *Service: A service whose Ready reports false.
func Unavailable(err error, assets []AssetRef, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if err == nil {
		err = errors.New("no context loaded")
	}
	return &Service{err: err, assets: assets, logger: logger, now: time.Now}
}

// Open loads the startup artifacts and returns a service in either state.
// It never fails: a load error leaves the service unavailable so that the
// process keeps running and can report why.
//
// Arguments:
//   - ctx: The context for the startup warmup.
//   - opts: The artifact locations and startup settings.
//   - load: The model loader.
//
// Returns:
//   - *Service: The service; check Ready before serving traffic.
func Open(ctx context.Context, opts Options, load ModelLoader) *Service {
	logger := opts.logger()
	assets := []AssetRef{
		{Asset: AssetModel, Path: opts.ModelPath},
		{Asset: AssetMask, Path: opts.MaskPath},
	}

	c, err := LoadContext(ctx, opts, load)
	if err != nil {
		logger.Error("inference service unavailable", "error", err)
		return Unavailable(err, assets, logger)
	}

	s := NewService(c, logger)
	s.assets = assets
	return s
}

// Ready reports whether the service accepts inference calls.
func (s *Service) Ready() bool {
	return s.ctx != nil
}

// Err returns the startup error of an unavailable service, or nil.
func (s *Service) Err() error {
	return s.err
}

// Assets returns the artifacts the service requires.
func (s *Service) Assets() []AssetRef {
	out := make([]AssetRef, len(s.assets))
	copy(out, s.assets)
	return out
}

// Context returns the loaded context, or nil when unavailable.
func (s *Service) Context() *Context {
	return s.ctx
}

// Close releases the model of a ready service.
func (s *Service) Close() error {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Close()
}

// Infer classifies one encoded scan.
//
// Nothing is retried: every failure is a deterministic function of the input
// or the assets and is returned to the caller as is.
//
// Arguments:
//   - ctx: The request context, passed to the model.
//   - data: The JPEG or PNG bytes.
//
// Returns:
//   - PredictionResult: The classification.
//   - error: ErrUnavailable, an *ImageProcessingError or a *PredictionError.
func (s *Service) Infer(ctx context.Context, data []byte) (PredictionResult, error) {
	if s.ctx == nil {
		return PredictionResult{}, fmt.Errorf("%w: %w", ErrUnavailable, s.err)
	}

	start := s.now()

	vec, err := s.ctx.preprocessor.Preprocess(data)
	if err != nil {
		s.logger.Warn("scan preprocessing failed", "error", err)
		return PredictionResult{}, err
	}

	probability, err := s.ctx.model.Predict(ctx, vec.Tensor())
	if err == nil {
		err = checkProbability(probability)
	}
	if err != nil {
		s.logger.Warn("model prediction failed", "error", err, "features", vec.Len())
		var perr *PredictionError
		if errors.As(err, &perr) {
			return PredictionResult{}, err
		}
		return PredictionResult{}, &PredictionError{Err: err}
	}

	elapsed := s.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	p := float64(probability)
	label, confidence := Interpret(p)
	cfg := s.ctx.preprocessor.Config()

	result := PredictionResult{
		Probability:       p,
		Label:             label,
		ConfidencePercent: confidence,
		LatencySeconds:    elapsed.Seconds(),
		FeatureCount:      s.ctx.preprocessor.FeatureCount(),
		Resolution:        Resolution{Width: cfg.Width, Height: cfg.Height},
		Model:             s.ctx.modelName,
	}

	s.logger.Debug("classified scan",
		"label", result.Label,
		"probability", result.Probability,
		"confidence", result.ConfidencePercent,
		"latency", elapsed,
	)

	return result, nil
}

// checkProbability rejects model outputs that are not a probability.
func checkProbability(p float32) error {
	if math32.IsNaN(p) || math32.IsInf(p, 0) {
		return errors.Errorf("model returned non-finite output %v", p)
	}
	if p < 0 || p > 1 {
		return errors.Errorf("model returned %v, outside [0, 1]", p)
	}
	return nil
}
