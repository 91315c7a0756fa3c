package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedis(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), Config{Addr: addr})
	assert.Error(t, err)

	_, err = NewRedis(context.Background(), Config{})
	assert.Error(t, err)
}

func TestTracingHookRecordsChildSpans(t *testing.T) {
	mr := miniredis.RunT(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rdb.AddHook(NewTracingHook(tp))

	// Without a recording parent nothing is traced.
	require.NoError(t, rdb.Set(context.Background(), "a", "1", 0).Err())
	assert.Empty(t, rec.Ended())

	ctx, parent := tp.Tracer("test").Start(context.Background(), "parent")
	require.NoError(t, rdb.Get(ctx, "a").Err())
	_, _ = rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Get(ctx, "a")
		p.Get(ctx, "b")
		return nil
	})
	parent.End()

	var names []string
	var gotOp bool
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("db.operation") && kv.Value.AsString() == "get" {
				gotOp = true
			}
			assert.NotEqual(t, attribute.Key("db.statement"), kv.Key)
		}
	}
	assert.Contains(t, names, "redis.command")
	assert.Contains(t, names, "redis.pipeline")
	assert.True(t, gotOp)
}

func TestTracingHookMissIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rdb.AddHook(NewTracingHook(tp))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "parent")
	assert.ErrorIs(t, rdb.Get(ctx, "missing").Err(), redis.Nil)
	parent.End()

	for _, s := range rec.Ended() {
		assert.NotEqual(t, codes.Error, s.Status().Code, s.Name())
	}
}
