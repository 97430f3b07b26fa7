package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		logger = newLogger()
	})
	return &buf
}

func TestSetLevel(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("warn")
	Info("hidden %d", 1)
	Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
	assert.False(t, Enabled(LevelDebug))
	assert.True(t, Enabled(LevelError))

	// Unknown names leave the level unchanged.
	SetLevel("verbose")
	assert.False(t, Enabled(LevelInfo))
}

func TestSetFormatJSON(t *testing.T) {
	buf := captureOutput(t)

	SetFormat("json")
	Error("record %d failed", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "record 42 failed", entry["msg"])
	assert.Equal(t, "error", entry["level"])
}

func TestWithFields(t *testing.T) {
	buf := captureOutput(t)

	SetFormat("json")
	WithFields(map[string]any{"file": "40#3", "bytes": 512}).Info("persisted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "persisted", entry["msg"])
	assert.Equal(t, "40#3", entry["file"])
	assert.Equal(t, float64(512), entry["bytes"])
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("Debug")
	assert.True(t, ok)
	assert.Equal(t, LevelDebug, l)
	assert.Equal(t, "DEBUG", l.String())

	_, ok = ParseLevel("trace")
	assert.False(t, ok)
}
