package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TextToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Config{Level: "info"}, &buf)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("probe completed", "plugin", "claude")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"probe completed\"")
	assert.Contains(t, out, "plugin=claude")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "debug", Format: "JSON"}, &buf)

	logger.Debug("loaded plugin", "id", "codex")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "loaded plugin", record["msg"])
	assert.Equal(t, "codex", record["id"])
	assert.Equal(t, "DEBUG", record["level"])
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "openusage.log")
	var buf bytes.Buffer
	logger, closer := New(Config{File: path}, &buf)

	logger.Warn("overlay unavailable", "plugin", "gemini")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "overlay unavailable"))
	assert.Contains(t, buf.String(), "overlay unavailable")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
