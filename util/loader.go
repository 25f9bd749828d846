package util

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/scan4stroke/images"
	"github.com/pkg/errors"
)

// ErrUnsupportedFile is returned for files that are not jpg, jpeg or png.
var ErrUnsupportedFile = errors.New("unsupported file type: only jpg, jpeg and png are accepted")

// ImageFile represents a scan read from disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Format is the format implied by the file extension.
	Format images.Format
}

// LoadImageFile reads one scan, rejecting unsupported extensions before
// touching the file.
//
// Arguments:
//   - path: Path to a .jpg, .jpeg or .png file.
//
// Returns:
//   - ImageFile: The file contents.
//   - error: ErrUnsupportedFile or the read error.
func LoadImageFile(path string) (ImageFile, error) {
	format, ok := images.FormatFromFilename(path)
	if !ok {
		return ImageFile{}, errors.Wrap(ErrUnsupportedFile, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "read %s", path)
	}

	return ImageFile{Path: path, Data: data, Format: format}, nil
}
