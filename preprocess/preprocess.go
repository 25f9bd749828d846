// Package preprocess - turns raw scan bytes into the model's feature vector.
//
// The transformation defines the model's input distribution, so every step is
// fixed: decode, 8-bit luminance, bicubic resize to the canonical resolution,
// scale to [0, 1], row-major flatten and finally gather the GA-selected
// positions in mask order.
package preprocess

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/nvr-ai/scan4stroke/features"
	"github.com/nvr-ai/scan4stroke/images"
	"github.com/pkg/errors"
)

const (
	// DefaultWidth is the canonical resize width the feature mask addresses.
	DefaultWidth = 128
	// DefaultHeight is the canonical resize height the feature mask addresses.
	DefaultHeight = 128
)

// Config defines the target resolution of the preprocessing pipeline.
type Config struct {
	// Width is the width every scan is resized to.
	Width int `json:"width" yaml:"width"`
	// Height is the height every scan is resized to.
	Height int `json:"height" yaml:"height"`
}

// DefaultConfig returns the 128x128 configuration the GA mask was evolved on.
func DefaultConfig() Config {
	return Config{Width: DefaultWidth, Height: DefaultHeight}
}

// Preprocessor converts scan bytes into masked feature vectors.
//
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	config Config
	mask   *features.Mask
	logger *slog.Logger
}

// Option customizes a Preprocessor at construction.
type Option func(*Preprocessor)

// WithLogger sets the logger used for debug output. A nil logger keeps
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPreprocessor creates a preprocessor bound to a feature mask.
//
// Arguments:
//   - mask: The GA feature mask; its index space must equal Width*Height.
//   - config: The target resolution.
//   - opts: Optional settings such as WithLogger.
//
// Returns:
//   - *Preprocessor: The configured preprocessor.
//   - error: An error if the resolution is invalid or does not match the mask.
//
// @example
//
//	mask, _ := features.LoadMask("GA_BiGRU_best_chromosome.npy", 128*128)
//	p, err := NewPreprocessor(mask, DefaultConfig())
func NewPreprocessor(mask *features.Mask, config Config, opts ...Option) (*Preprocessor, error) {
	if mask == nil {
		return nil, errors.New("feature mask is nil")
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Errorf("invalid target size %dx%d", config.Width, config.Height)
	}
	if config.Width*config.Height != mask.Space() {
		return nil, errors.Errorf(
			"target size %dx%d flattens to %d values, mask addresses %d",
			config.Width, config.Height, config.Width*config.Height, mask.Space(),
		)
	}

	p := &Preprocessor{
		config: config,
		mask:   mask,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the target resolution.
func (p *Preprocessor) Config() Config {
	return p.config
}

// FeatureCount returns the length of every vector this preprocessor produces.
func (p *Preprocessor) FeatureCount() int {
	return p.mask.Len()
}

// Preprocess runs the full pipeline on one encoded scan.
//
// Arguments:
//   - data: The JPEG or PNG bytes.
//
// Returns:
//   - *FeatureVector: The selected features, ready to reshape to (1, 1, K).
//   - error: A *Error naming the failing stage.
func (p *Preprocessor) Preprocess(data []byte) (*FeatureVector, error) {
	flat, source, err := p.Flatten(data)
	if err != nil {
		return nil, err
	}

	selected, err := p.mask.Select(flat)
	if err != nil {
		return nil, &Error{Stage: StageSelect, Err: err}
	}

	p.logger.Debug("preprocessed scan",
		"format", source.Format,
		"width", source.Width,
		"height", source.Height,
		"features", len(selected),
	)

	return &FeatureVector{Values: selected, Source: source}, nil
}

// Flatten runs every step up to and including the row-major flatten, without
// applying the mask.
//
// Arguments:
//   - data: The JPEG or PNG bytes.
//
// Returns:
//   - []float32: Width*Height values in [0, 1].
//   - images.Image: The format and source dimensions of the scan.
//   - error: A *Error naming the failing stage.
func (p *Preprocessor) Flatten(data []byte) ([]float32, images.Image, error) {
	decoded, source, err := images.Decode(data)
	if err != nil {
		return nil, images.Image{}, &Error{Stage: StageDecode, Err: err}
	}

	gray := images.Luminance(decoded)
	if gray.Bounds().Empty() {
		return nil, images.Image{}, &Error{Stage: StageGrayscale, Err: errors.New("luminance image is empty")}
	}

	resized, err := images.Resize(gray, p.config.Width, p.config.Height)
	if err != nil {
		return nil, images.Image{}, &Error{Stage: StageResize, Err: err}
	}

	return Flatten(resized), source, nil
}

// Flatten scales each pixel of a grayscale image to [0, 1] by dividing by
// 255 and lays the values out row-major.
func Flatten(gray *image.Gray) []float32 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := make([]float32, 0, width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		off := gray.PixOffset(bounds.Min.X, y)
		for _, v := range gray.Pix[off : off+width] {
			out = append(out, float32(float64(v)/255.0))
		}
	}
	return out
}

// String implements fmt.Stringer for logging.
func (c Config) String() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}
