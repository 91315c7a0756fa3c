package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config for the Redis instance backing the last-record cache, rate limiting
// and idempotency keys. An empty Addr disables all three.
type Config struct {
	Addr         string        `envconfig:"REDIS_ADDR" yaml:"addr"`
	Password     string        `envconfig:"REDIS_PASSWORD" yaml:"password"`
	DB           int           `envconfig:"REDIS_DB" yaml:"db" default:"0" validate:"gte=0,lte=15"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" yaml:"pool_size" default:"10" validate:"gte=0"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" yaml:"dial_timeout" default:"3s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" yaml:"read_timeout" default:"500ms"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" yaml:"write_timeout" default:"500ms"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// NewRedis returns a traced client once the server answers a ping.
func NewRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("cache: redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	rdb.AddHook(TracingHook{tracer: otel.Tracer("helix-audit/cache/redis")})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// TracingHook opens a client span per command or pipeline, but only under a
// recording parent. Arguments are never recorded since cached audit records
// and keys may carry sensitive values.
type TracingHook struct {
	tracer trace.Tracer
}

func NewTracingHook(tp trace.TracerProvider) TracingHook {
	return TracingHook{tracer: tp.Tracer("helix-audit/cache/redis")}
}

func (h TracingHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if !trace.SpanFromContext(ctx).IsRecording() {
			return next(ctx, cmd)
		}
		ctx, span := h.start(ctx, "redis.command", attribute.String("db.operation", cmd.Name()))
		err := next(ctx, cmd)
		end(span, err)
		return err
	}
}

func (h TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if !trace.SpanFromContext(ctx).IsRecording() {
			return next(ctx, cmds)
		}
		ctx, span := h.start(ctx, "redis.pipeline",
			attribute.String("db.operation", "pipeline"),
			attribute.Int("db.redis.pipeline_length", len(cmds)),
		)
		err := next(ctx, cmds)
		end(span, err)
		return err
	}
}

func (h TracingHook) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "redis"))...),
	)
}

// end closes span. A cache miss (redis.Nil) is not an error.
func end(span trace.Span, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
