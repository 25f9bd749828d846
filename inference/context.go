package inference

import (
	"context"
	"log/slog"

	"github.com/nvr-ai/scan4stroke/features"
	"github.com/nvr-ai/scan4stroke/preprocess"
	"github.com/pkg/errors"
)

// Context holds everything loaded once at startup and shared read-only by
// every inference call: the feature mask, the preprocessor bound to it and
// the model handle.
type Context struct {
	mask         *features.Mask
	preprocessor *preprocess.Preprocessor
	model        Model
	modelName    string
}

// NewContext assembles a context from already loaded parts.
//
// Arguments:
//   - mask: The GA feature mask.
//   - model: The model handle, expecting input width mask.Len().
//   - modelName: The display name reported in results.
//   - resolution: The preprocessing resolution; its area must equal mask.Space().
//
// Returns:
//   - *Context: The immutable context.
//   - error: An error if a part is missing or the resolution does not fit the mask.
func NewContext(mask *features.Mask, model Model, modelName string, resolution preprocess.Config) (*Context, error) {
	return newContext(mask, model, modelName, resolution, nil)
}

func newContext(mask *features.Mask, model Model, modelName string, resolution preprocess.Config, logger *slog.Logger) (*Context, error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}

	p, err := preprocess.NewPreprocessor(mask, resolution, preprocess.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Context{
		mask:         mask,
		preprocessor: p,
		model:        model,
		modelName:    modelName,
	}, nil
}

// Mask returns the feature mask.
func (c *Context) Mask() *features.Mask { return c.mask }

// Preprocessor returns the preprocessor bound to the mask.
func (c *Context) Preprocessor() *preprocess.Preprocessor { return c.preprocessor }

// Model returns the model handle.
func (c *Context) Model() Model { return c.model }

// ModelName returns the display name of the model.
func (c *Context) ModelName() string { return c.modelName }

// Close releases the model.
func (c *Context) Close() error {
	return c.model.Close()
}

// graphIO is implemented by models that feed a named graph input and read a
// named output.
type graphIO interface {
	InputName() string
	OutputName() string
}

// ModelLoader opens the model artifact. featureCount is the width the model
// will be fed, so loaders that can read the declared input shape should
// reject a mismatch up front.
type ModelLoader func(path string, featureCount int) (Model, error)

// Options locates the startup artifacts.
type Options struct {
	// MaskPath is the .npy chromosome file.
	MaskPath string
	// ModelPath is the model artifact handed to the ModelLoader.
	ModelPath string
	// ModelName is the display name reported in results.
	ModelName string
	// Resolution is the preprocessing resolution.
	Resolution preprocess.Config
	// Warmup is the number of zero-tensor predictions run before the
	// context is returned. Zero skips the startup check.
	Warmup int
	// Logger receives startup and per-call logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// LoadContext loads the mask and the model and verifies they fit together.
//
// Order of operations:
//  1. Load the feature mask from MaskPath, sized to the Resolution area.
//  2. Open the model through load, passing the mask length.
//  3. Bind a preprocessor at Resolution to the mask.
//  4. Run Warmup predictions on a zero tensor of shape (1, 1, K).
//
// Arguments:
//   - ctx: The context for the warmup predictions.
//   - opts: The artifact locations and startup settings.
//   - load: The model loader.
//
// Returns:
//   - *Context: The loaded context.
//   - error: An *AssetLoadError naming the artifact that failed.
func LoadContext(ctx context.Context, opts Options, load ModelLoader) (*Context, error) {
	logger := opts.logger()

	mask, err := features.LoadMask(opts.MaskPath, opts.Resolution.Width*opts.Resolution.Height)
	if err != nil {
		return nil, &AssetLoadError{Asset: AssetMask, Path: opts.MaskPath, Err: err}
	}
	logger.Info("loaded feature mask", "path", opts.MaskPath, "features", mask.Len(), "space", mask.Space())

	model, err := load(opts.ModelPath, mask.Len())
	if err != nil {
		return nil, &AssetLoadError{Asset: AssetModel, Path: opts.ModelPath, Err: err}
	}

	c, err := newContext(mask, model, opts.ModelName, opts.Resolution, logger)
	if err != nil {
		model.Close()
		return nil, &AssetLoadError{Asset: AssetModel, Path: opts.ModelPath, Err: err}
	}

	if err := c.warmup(ctx, opts.Warmup); err != nil {
		c.Close()
		return nil, &AssetLoadError{Asset: AssetModel, Path: opts.ModelPath, Err: err}
	}
	attrs := []any{"path", opts.ModelPath, "name", opts.ModelName, "warmup", opts.Warmup}
	if io, ok := model.(graphIO); ok {
		attrs = append(attrs, "input", io.InputName(), "output", io.OutputName())
	}
	logger.Info("loaded model", attrs...)

	return c, nil
}

// warmup feeds zero tensors through the model so that a width mismatch or a
// broken artifact fails at startup instead of on the first scan.
func (c *Context) warmup(ctx context.Context, runs int) error {
	zero := &preprocess.FeatureVector{Values: make([]float32, c.mask.Len())}
	for i := 0; i < runs; i++ {
		p, err := c.model.Predict(ctx, zero.Tensor())
		if err != nil {
			return errors.Wrapf(err, "warmup prediction %d", i+1)
		}
		if err := checkProbability(p); err != nil {
			return errors.Wrapf(err, "warmup prediction %d", i+1)
		}
	}
	return nil
}
