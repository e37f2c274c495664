package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// TestLogger tests the basic logger functionality
func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(DebugLevel)

	logger.Debug("Debug message", String("key", "value"))
	logger.Info("Info message", Int("count", 42))
	logger.Warn("Warning message", Bool("flag", true))
	logger.Error("Error message", ErrorField(errors.New("test error")))

	output := buf.String()
	for _, want := range []string{
		"Debug message", "Info message", "Warning message", "Error message",
		"key=value", "count=42", "flag=true", `error="test error"`,
	} {
		assert.Contains(t, output, want)
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("shown warn")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "shown warn")
	assert.Equal(t, WarnLevel, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter()).WithFields(
		String("service", "test-service"),
		String("version", "1.0.0"),
	)

	logger.Info("Test message", String("operation", "test"))

	output := buf.String()
	assert.Contains(t, output, "service=test-service")
	assert.Contains(t, output, "version=1.0.0")
	assert.Contains(t, output, "operation=test")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	ctx := ContextWithRequestID(context.Background(), "test-request-123")
	ctx = ContextWithSessionID(ctx, "0123456789abcdef")
	logger.WithContext(ctx).Info("Test message")

	output := buf.String()
	assert.Contains(t, output, "[test-request-123]")
	assert.Contains(t, output, "<01234567>")
	assert.NotContains(t, output, "session_id=")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	mcpErr := mcperrors.PoolExhausted(2).
		WithContext(&mcperrors.Context{
			RequestID: "req-123",
			Method:    "tools/call",
			ConnID:    "conn-2",
			Attempt:   3,
		})

	logger.WithError(mcpErr).Error("Operation failed")

	output := buf.String()
	assert.Contains(t, output, "error=")
	assert.Contains(t, output, "error_code=-32505")
	assert.Contains(t, output, "error_category=capacity")
	assert.Contains(t, output, "[req-123]")
	assert.Contains(t, output, "conn_id=conn-2")
	assert.Contains(t, output, "attempt=3")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Info("Test fields",
		String("string", "value"),
		Int("int", 42),
		Int64("int64", 1<<40),
		Bool("bool", true),
		Duration("duration", 5*time.Second),
		Time("time", time.Now()),
		Any("any", map[string]int{"a": 1}),
		ErrorField(errors.New("test error")),
		Component("correlation"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "Test fields", entry["message"])
	assert.Equal(t, "value", entry["string"])
	assert.Equal(t, float64(42), entry["int"])
	assert.Equal(t, float64(1<<40), entry["int64"])
	assert.Equal(t, true, entry["bool"])
	assert.Equal(t, "5s", entry["duration"])
	assert.IsType(t, "", entry["time"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, entry["any"])
	assert.Equal(t, "test error", entry["error"])
	assert.Equal(t, "correlation", entry["component"])
}

func TestDerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, NewJSONFormatter())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := root.WithFields(Int("worker", i))
			for j := 0; j < 50; j++ {
				l.Info("tick")
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
	for _, line := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "interleaved write: %s", line)
	}

	// Level changes apply to derived loggers too.
	child := root.WithFields(String("k", "v"))
	root.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, child.GetLevel())
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("discarded")
	assert.NotNil(t, OrNop(nil))
	assert.Same(t, l, OrNop(l))
}
