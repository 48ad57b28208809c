package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextPropagation(t *testing.T) {
	t.Run("trace ID round-trips", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-123")
		assert.Equal(t, "trace-123", GetTraceID(ctx))
	})

	t.Run("task ID round-trips", func(t *testing.T) {
		ctx := WithTaskID(context.Background(), "task-7")
		assert.Equal(t, "task-7", GetTaskID(ctx))
	})

	t.Run("empty context returns empty values", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
		assert.Empty(t, GetTaskID(context.Background()))
	})

	t.Run("request context gets a fresh trace ID", func(t *testing.T) {
		ctx := NewRequestContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTaskID(WithTraceID(context.Background(), "trace-abc"), "task-9")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-abc")
	assert.Contains(t, out, "task-9")
}
