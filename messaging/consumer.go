package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/godamri/helix-audit/audit"
)

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// MaxRetries caps attempts per message; 0 retries until ctx ends.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HandlerFunc processes one message. An error retries it; nil commits the
// offset, so poison messages should be logged and acknowledged.
type HandlerFunc func(ctx context.Context, key, payload []byte) error

// NotificationHandler adapts fn to HandlerFunc. Payloads that are not audit
// notifications are logged and skipped.
func NotificationHandler(logger *slog.Logger, fn func(ctx context.Context, n audit.Notification) error) HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, key, payload []byte) error {
		note, err := DecodeNotification(payload)
		if err != nil {
			logger.ErrorContext(ctx, "skipping undecodable notification", "key", string(key), "error", err)
			return nil
		}
		return fn(ctx, note)
	}
}

type Consumer struct {
	client    *kgo.Client
	logger    *slog.Logger
	cfg       ConsumerConfig
	handler   HandlerFunc
	closeOnce sync.Once
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) (*Consumer, error) {
	cfg = cfg.withDefaults()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		// Offsets are committed after handling: at-least-once.
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: create consumer: %w", err)
	}

	return newConsumer(client, cfg, logger, handler), nil
}

func newConsumer(client *kgo.Client, cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		handler: handler,
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

func (c *Consumer) Name() string {
	return c.cfg.Topic
}

// Start begins the consumption loop. It blocks until context is cancelled
// or the consumer is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consumer started", "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	defer c.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "fetch failed", "topic", topic, "partition", partition, "error", err)
			fetchErr = err
		})
		if fetchErr != nil && len(fetches.Records()) == 0 {
			continue
		}

		var stop bool
		fetches.EachRecord(func(rec *kgo.Record) {
			if stop {
				return
			}
			// Records are handled in order; the next waits for this one.
			if err := c.processWithRetry(recordContext(ctx, rec), rec.Key, rec.Value); err != nil {
				if errors.Is(err, context.Canceled) {
					stop = true
					return
				}
				c.logger.ErrorContext(ctx, "message dropped", "error", err, "key", string(rec.Key))
			}

			if err := c.client.CommitRecords(ctx, rec); err != nil {
				// Redelivery is tolerated; handlers are idempotent.
				c.logger.ErrorContext(ctx, "offset commit failed", "error", err)
			}
		})
		if stop {
			return nil
		}
	}
}

// recordContext restores the producer's trace context from the headers.
func recordContext(ctx context.Context, rec *kgo.Record) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, (*headerCarrier)(rec))
}

// processWithRetry retries the handler with capped exponential backoff.
// MaxRetries bounds the total number of attempts; zero retries forever.
func (c *Consumer) processWithRetry(ctx context.Context, key, payload []byte) error {
	b := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.InitialBackoff))
	if c.cfg.MaxRetries > 0 {
		b = retry.WithMaxRetries(uint64(c.cfg.MaxRetries-1), b)
	}

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := c.handler(ctx, key, payload)
		if err == nil {
			return nil
		}
		c.logger.WarnContext(ctx, "message handling failed", "attempt", attempt, "key", string(key), "error", err)
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("max retries exceeded after %d attempts: %w", attempt, err)
	}
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		if c.client != nil {
			c.client.Close()
		}
	})
	return nil
}
