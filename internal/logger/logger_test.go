package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nope"))
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New("info", "json", &buf).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"service":"pricing-publisher"`)

	buf.Reset()
	New("info", "text", &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	New("debug", "text", &buf).Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
