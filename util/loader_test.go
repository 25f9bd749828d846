package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/scan4stroke/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadImageFile(t *testing.T) {
	dir := t.TempDir()

	scan, err := LoadImageFile(writeFile(t, dir, "ct.JPG", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, images.FormatJPEG, scan.Format)
	assert.Equal(t, []byte("jpeg bytes"), scan.Data)

	_, err = LoadImageFile(writeFile(t, dir, "ct.bmp", []byte("bmp")))
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = LoadImageFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFile)
}
