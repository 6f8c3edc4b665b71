package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandler_NoSpan(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, slog.LevelInfo)
	logger.InfoContext(context.Background(), "transfer complete", "job_id", "abc")

	entry := decode(t, &buf)
	assert.Equal(t, "transfer complete", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestTraceHandler_WithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "transfer_run")
	defer span.End()

	var buf bytes.Buffer

	NewLogger(&buf, slog.LevelInfo).InfoContext(ctx, "starting transfer")

	entry := decode(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_Level(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestTraceHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, slog.LevelInfo).With("job_id", "j1").WithGroup("run")
	logger.Info("progress", "downloaded", 10)

	entry := decode(t, &buf)
	assert.Equal(t, "j1", entry["job_id"])

	run, ok := entry["run"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 10, run["downloaded"], 0)
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestWith_CarriesAttrs(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), NewLogger(&buf, slog.LevelInfo))
	ctx = With(ctx, "job_id", "j2")

	LoggerFromContext(ctx).Info("hello")

	assert.Equal(t, "j2", decode(t, &buf)["job_id"])
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}
