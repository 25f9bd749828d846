// Package images - decoding and pixel transforms for scan preprocessing.
package images

// Image describes a decoded scan before any transform is applied.
type Image struct {
	// The format the scan was encoded in.
	Format Format `json:"format" yaml:"format"`
	// The width of the scan in pixels.
	Width int `json:"width" yaml:"width"`
	// The height of the scan in pixels.
	Height int `json:"height" yaml:"height"`
}
