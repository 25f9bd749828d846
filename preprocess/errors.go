package preprocess

import "fmt"

// Stage names the preprocessing step that failed.
type Stage string

const (
	// StageDecode is decoding the encoded bytes into pixels.
	StageDecode Stage = "decode"
	// StageGrayscale is the luminance conversion.
	StageGrayscale Stage = "grayscale"
	// StageResize is scaling to the canonical resolution.
	StageResize Stage = "resize"
	// StageSelect is gathering the masked features.
	StageSelect Stage = "select"
)

// Error is returned for any failure while turning image bytes into features.
// It is local to one image and never leaves a partial result behind.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("image processing failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
