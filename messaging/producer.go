package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
)

// Config is shared by the notification producer and the cache-refresh
// consumer.
type Config struct {
	Brokers          []string      `envconfig:"KAFKA_BROKERS" yaml:"brokers"`
	GroupID          string        `envconfig:"KAFKA_GROUP_ID" yaml:"group_id" default:"helix-audit"`
	ClientID         string        `envconfig:"KAFKA_CLIENT_ID" yaml:"client_id" default:"helix-audit"`
	AutoCreateTopics bool          `envconfig:"KAFKA_AUTO_CREATE_TOPICS" yaml:"auto_create_topics"`
	ProduceTimeout   time.Duration `envconfig:"KAFKA_PRODUCE_TIMEOUT" yaml:"produce_timeout" default:"10s"`
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Publisher sends one keyed message and waits for the broker ack.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// Producer is a synchronous franz-go publisher. Every record waits for all
// in-sync replicas, so a nil error means the notification is durable.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewProducer(ctx context.Context, cfg Config, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = 10 * time.Second
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordDeliveryTimeout(cfg.ProduceTimeout),
	}
	if cfg.AutoCreateTopics {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: create producer: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("messaging: ping brokers: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(rec))

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.logger.ErrorContext(ctx, "publish failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("messaging: publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// headerCarrier exposes record headers to the OTel propagator.
type headerCarrier kgo.Record

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.Headers {
		if h.Key == key {
			c.Headers[i].Value = []byte(value)
			return
		}
	}
	c.Headers = append(c.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.Headers))
	for i, h := range c.Headers {
		keys[i] = h.Key
	}
	return keys
}
