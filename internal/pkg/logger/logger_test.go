package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	// Test that logger functions don't panic
	ctx := context.Background()

	Initialize()

	t.Run("InfoContext", func(t *testing.T) {
		InfoContext(ctx, "Test info message", "key", "value", "number", 42)
	})

	t.Run("Warn", func(t *testing.T) {
		Warn("Test warning message", "component", "test")
	})

	t.Run("ErrorContext", func(t *testing.T) {
		ErrorContext(ctx, "Test error message", "error", "sample error")
	})

	t.Run("DebugContext", func(t *testing.T) {
		DebugContext(ctx, "Test debug message", "debug", true)
	})
}

func TestConfigure_VerboseEnablesDebug(t *testing.T) {
	defer Configure(os.Stderr, "text", false)

	var buf bytes.Buffer
	Configure(&buf, "text", false)
	Debug("hidden message")
	assert.Empty(t, buf.String())
	assert.False(t, IsDebugEnabled())

	Configure(&buf, "text", true)
	Debug("visible message", "route", "/image.img")
	assert.Contains(t, buf.String(), "visible message")
	assert.Contains(t, buf.String(), "route=/image.img")
	assert.True(t, IsDebugEnabled())
}

func TestConfigure_JSONFormat(t *testing.T) {
	defer Configure(os.Stderr, "text", false)

	var buf bytes.Buffer
	Configure(&buf, "json", false)
	Info("served", "status", 206)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "served", record["msg"])
	assert.Equal(t, float64(206), record["status"])
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	SetLevel(slog.LevelError)
	assert.False(t, Get().Enabled(context.Background(), slog.LevelWarn))
	SetLevel(slog.LevelDebug)
	assert.True(t, Get().Enabled(context.Background(), slog.LevelDebug))
}

func TestWithMethods(t *testing.T) {
	assert.NotNil(t, Get())
	assert.NotNil(t, With("service", "test"))
	assert.NotNil(t, WithGroup("test_group"))
}
