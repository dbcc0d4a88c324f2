// Package notify delivers alerts for flagged transactions.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// Notifier sends alerts to people or downstream systems.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
	Close() error
}

// New creates a notifier from configuration.
func New(cfg domain.NotifierConfig) (Notifier, error) {
	switch cfg.Type {
	case "", "noop":
		return NewNoOpNotifier(), nil
	case "kafka":
		return NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}

// KafkaNotifier publishes alerts as JSON keyed by transaction ID.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaNotifier connects a synchronous producer to brokers.
func NewKafkaNotifier(brokers []string, topic string, timeout time.Duration) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka notifier requires brokers and a topic")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Timeout = timeout

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	slog.Info("kafka notifier connected",
		"topic", topic,
		"brokers", brokers,
	)
	return NewKafkaNotifierWithProducer(producer, topic), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer.
func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// Notify sends one alert, giving up when ctx is done.
func (n *KafkaNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(alert.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("model_version"), Value: []byte(alert.ModelVersion)},
		},
	}

	type result struct {
		partition int32
		offset    int64
		err       error
	}
	resultCh := make(chan result, 1)

	go func() {
		partition, offset, err := n.producer.SendMessage(msg)
		resultCh <- result{partition, offset, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			slog.Error("alert send failed",
				"tx_id", alert.ID,
				"error", res.err,
			)
			return res.err
		}
		slog.Debug("alert sent",
			"tx_id", alert.ID,
			"partition", res.partition,
			"offset", res.offset,
		)
		return nil
	case <-ctx.Done():
		slog.Warn("alert send cancelled", "tx_id", alert.ID)
		return ctx.Err()
	}
}

// Close closes the producer.
func (n *KafkaNotifier) Close() error {
	if n.producer == nil {
		return nil
	}
	return n.producer.Close()
}

// NoOpNotifier logs alerts without delivering them.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a notifier that only logs.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Notify logs the alert.
func (NoOpNotifier) Notify(_ context.Context, alert domain.Alert) error {
	slog.Info("anomalous transaction",
		"tx_id", alert.ID,
		"score", alert.AnomalyScore,
		"amount", alert.Amount,
		"category", alert.Category,
		"local_time", alert.LocalTime,
	)
	return nil
}

// Close is a no-op.
func (NoOpNotifier) Close() error { return nil }
