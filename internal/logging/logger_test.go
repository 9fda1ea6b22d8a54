package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.WithFields(map[string]interface{}{
		"job_id": "abc",
		"queue":  "image-generation",
	}).WithError(errors.New("boom")).Info("job failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "job failed", entry["message"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.Equal(t, "image-generation", entry["queue"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarn, FormatJSON, &buf)

	logger.Info("hidden")
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatText, &buf)

	logger.WithField("worker", "w-1").Info("claimed")
	out := buf.String()
	assert.True(t, strings.Contains(out, "claimed"))
	assert.True(t, strings.Contains(out, "worker=w-1"))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")

	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"unknown": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}

	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("yaml"))
}
