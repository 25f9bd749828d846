package images

import (
	"path/filepath"
	"strings"
)

// Format represents a supported scan encoding.
type Format string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG Format = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG Format = "png"
)

// Supported reports whether scans in this format are accepted.
func (f Format) Supported() bool {
	return f == FormatJPEG || f == FormatPNG
}

// FormatFromFilename maps a file name to its scan format by extension.
//
// Arguments:
//   - name: The file name or path, e.g. "scan.JPG".
//
// Returns:
//   - Format: The matching format.
//   - bool: False if the extension is not jpg, jpeg or png.
func FormatFromFilename(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".png":
		return FormatPNG, true
	default:
		return "", false
	}
}
