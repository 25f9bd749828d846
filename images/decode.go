package images

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
)

// MaxPixels bounds the decoded size of a scan to 4096x4096, at most 128 MiB of
// 16-bit RGBA. Larger headers are rejected before the pixel data is allocated.
const MaxPixels = 4096 * 4096

// ErrEmptyData is returned when there are no bytes to decode.
var ErrEmptyData = errors.New("image data is empty")

// Decode decodes JPEG or PNG bytes, sniffing the format from the data.
//
// Arguments:
//   - data: The encoded scan.
//
// Returns:
//   - image.Image: The decoded pixels.
//   - Image: The format and dimensions of the scan.
//   - error: An error if the data is empty, not JPEG/PNG, corrupt or too large.
func Decode(data []byte) (image.Image, Image, error) {
	if len(data) == 0 {
		return nil, Image{}, ErrEmptyData
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, Image{}, errors.Wrap(err, "read image header")
	}

	format := Format(name)
	if !format.Supported() {
		return nil, Image{}, errors.Errorf("unsupported image format %q", name)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, Image{}, errors.Errorf("invalid image dimensions: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, Image{}, errors.Errorf("image of %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Image{}, errors.Wrapf(err, "decode %s", name)
	}

	return img, Image{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
