package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPlainErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{ReplaceAttr: plainErrors}))

	err := errors.Wrap(errors.New("no such file"), "read scan.png")
	logger.Error("cannot read scan", "error", err, "path", "scan.png")

	line := logs.String()
	assert.Contains(t, line, `error="read scan.png: no such file"`)
	assert.Contains(t, line, "path=scan.png")
	assert.NotContains(t, line, ".go:", "no stack frames in CLI logs")
	assert.Equal(t, 1, strings.Count(line, "\n"), "one line per record")
}
