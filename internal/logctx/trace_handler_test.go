package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTraceHandlerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		NewTraceHandler(nil)
	})
}

func TestHandleWithoutSpanAddsNoTraceFields(t *testing.T) {
	var buf bytes.Buffer

	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	logger.InfoContext(context.Background(), "no span here")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "span_id")
}

func TestHandleInjectsTraceContext(t *testing.T) {
	var buf bytes.Buffer

	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "inside a span")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, traceID.String(), record["trace_id"])
	assert.Equal(t, spanID.String(), record["span_id"])
}

func TestWithAttrsPreservesWrapping(t *testing.T) {
	var buf bytes.Buffer

	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	wrapped := handler.WithAttrs([]slog.Attr{slog.String("component", "fetch")})

	_, ok := wrapped.(*TraceHandler)
	assert.True(t, ok, "WithAttrs must return a TraceHandler")

	logger := slog.New(wrapped)
	logger.Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "fetch", record["component"])
}

func TestLoggerRoundTripsThroughContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}
