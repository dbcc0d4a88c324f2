package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// New returns the bus named by cfg.Type: "channel" (the default) for a
// single process, "nats" when workers run elsewhere.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

// DecodeJSON unmarshals a message payload into v.
func DecodeJSON(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Topic, err)
	}
	return nil
}
