package images

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Resize scales a grayscale image to exactly width x height with bicubic
// interpolation. The aspect ratio is not preserved.
//
// Arguments:
//   - img: The grayscale image to resize.
//   - width: The target width in pixels.
//   - height: The target height in pixels.
//
// Returns:
//   - *image.Gray: The resized image with origin (0, 0).
//   - error: An error if the target or source dimensions are invalid.
func Resize(img *image.Gray, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("source image is empty")
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Bicubic)

	bounds := resized.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, errors.Errorf("resize produced %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}

	if gray, ok := resized.(*image.Gray); ok && bounds.Min == (image.Point{}) {
		return gray, nil
	}

	// Other image types are copied into a *image.Gray at the origin.
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), resized, bounds.Min, draw.Src)
	return dst, nil
}
