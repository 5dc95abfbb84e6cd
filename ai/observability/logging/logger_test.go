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

func newBufferLogger(buf *bytes.Buffer) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewLogger(h).WithLevel(LevelDebug)
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).Component("cache").WithField("owner_id", "u1")

	l.Warn("lookup degraded", "kind", "embedding_unavailable")

	out := decode(t, &buf)
	assert.Equal(t, "lookup degraded", out["msg"])
	assert.Equal(t, "WARN", out["level"])
	assert.Equal(t, "cache", out["component"])
	assert.Equal(t, "u1", out["owner_id"])
	assert.Equal(t, "embedding_unavailable", out["kind"])
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := newBufferLogger(&buf)
	_ = parent.WithFields(map[string]any{"a": 1})

	parent.Info("plain")
	out := decode(t, &buf)
	_, ok := out["a"]
	assert.False(t, ok)
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).WithLevel(LevelWarn)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Error("kept")
	assert.NotZero(t, buf.Len())
}

func TestLogger_OddArgsIgnored(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)
	l.Info("odd", "key")
	out := decode(t, &buf)
	_, ok := out["key"]
	assert.False(t, ok)
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	assert.Same(t, Default(), FromContext(context.Background()))

	ctx := ToContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).Component("cache")

	assert.Same(t, l, l.WithContext(context.Background()))

	scoped := Default().WithFields(map[string]any{"request_id": "req-1", "component": "http"})
	l.WithContext(ToContext(context.Background(), scoped)).Warn("lookup degraded")

	out := decode(t, &buf)
	assert.Equal(t, "req-1", out["request_id"])
	assert.Equal(t, "cache", out["component"], "own fields win")
}

func TestSetup(t *testing.T) {
	saved := Default()
	savedSlog := slog.Default()
	defer func() {
		SetDefault(saved)
		slog.SetDefault(savedSlog)
	}()

	var buf bytes.Buffer
	l := Setup(&buf, false, LevelInfo)
	assert.Same(t, l, Default())

	l.Debug("hidden")
	assert.Zero(t, buf.Len())
	l.Info("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
