package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.WithRequestID("req-1").WithFields(slog.String("entity_set", "People")).Warn("kept")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "People", record["entity_set"])
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))
	assert.Empty(t, GetRequestID(ctx))

	logger := NewLogger(Config{Output: &bytes.Buffer{}})
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestIDContext(ctx, "req-2")
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "req-2", GetRequestID(ctx))
}

func TestFanout(t *testing.T) {
	var debug, errOnly bytes.Buffer
	handler := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	logger := slog.New(handler).With(slog.String("component", "test"))

	logger.Debug("detail")
	logger.Error("failure")

	assert.Contains(t, debug.String(), "detail")
	assert.Contains(t, debug.String(), "failure")
	assert.NotContains(t, errOnly.String(), "detail")
	assert.Contains(t, errOnly.String(), "component=test")
}
