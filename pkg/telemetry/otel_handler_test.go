package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/godamri/helix-audit/pkg/contextx"
)

func newTracedLogger(t *testing.T) (*slog.Logger, *bytes.Buffer, *tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	var buf bytes.Buffer
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	logger := slog.New(NewOTelHandler(slog.NewJSONHandler(&buf, nil)))
	return logger, &buf, rec, tp
}

func TestOTelHandler_StampsIDs(t *testing.T) {
	logger, buf, _, tp := newTracedLogger(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = contextx.WithRequestID(ctx, "req-9")
	ctx = contextx.WithActorID(ctx, "42")
	logger.InfoContext(ctx, "hello")
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "42", line["actor_id"])
}

func TestOTelHandler_ErrorMarksSpan(t *testing.T) {
	logger, _, rec, tp := newTracedLogger(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.ErrorContext(ctx, "append failed", "error", errors.New("db down"))
	logger.WarnContext(ctx, "cache miss")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "log_warning")
}

func TestOTelHandler_NoSpan(t *testing.T) {
	logger, buf, _, _ := newTracedLogger(t)
	logger.Error("no span")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestOTelHandler_TenantAndGroups(t *testing.T) {
	logger, buf, rec, tp := newTracedLogger(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = contextx.WithTenantID(ctx, "acme")
	logger.WarnContext(ctx, "slow append", slog.Group("audit", slog.String("entity_type", "Book")))
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "acme", line["tenant_id"])

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)

	attrs := map[string]string{}
	for _, kv := range ended[0].Events()[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "Book", attrs["audit.entity_type"])
	assert.Equal(t, "slow append", attrs["message"])
}
