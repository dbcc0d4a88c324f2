package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// MetadataReplyTo names the topic a Request expects its answer on.
const MetadataReplyTo = "reply_to"

// Message is the envelope every bus carries. Timestamp is Unix nanoseconds.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" koanf:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" koanf:"nats_url"`
	NATSToken         string `json:"-" koanf:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" koanf:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup makes subscribers on the same subject share messages
	// instead of each receiving a copy. Empty means fan-out.
	NATSQueueGroup string `json:"natsQueueGroup" koanf:"nats_queue_group"`
}

// Standard topic names for the scoring pipeline.
const (
	TopicTransactionIngested = "spendguard.transaction.ingested"
	TopicScoringRequest      = "spendguard.scoring.request"
	TopicScoringResult       = "spendguard.scoring.result"
	TopicAlert               = "spendguard.alert"
)
