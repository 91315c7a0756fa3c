package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaNotifier publishes notifications through a sarama async producer.
// Delivery errors are drained in the background and only logged.
type KafkaNotifier struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Producer.Flush.Messages = 100

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to start kafka producer: %w", err)
	}
	return NewKafkaNotifierFromProducer(producer, topic, logger), nil
}

// NewKafkaNotifierFromProducer wraps an existing producer, e.g. a sarama mock.
func NewKafkaNotifierFromProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaNotifier {
	if topic == "" {
		topic = "system.audit.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go k.drainErrors()
	return k
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("audit: marshal notification failed: %w", err)
	}

	// Keyed by entity so one instance's notifications stay ordered on a partition.
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.EntityType + ":" + n.EntityID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("audit-topic"), Value: []byte(n.Topic)},
		},
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaNotifier) drainErrors() {
	defer close(k.done)
	for err := range k.producer.Errors() {
		k.logger.Error("audit: failed to send notification to kafka", "error", err)
	}
}

func (k *KafkaNotifier) Close() error {
	k.producer.AsyncClose()
	<-k.done
	return nil
}
