// Package bus provides event bus implementations for SpendGuard.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// Publish sends a message to a topic.
// Subscribers with a full buffer miss the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := newMessage(topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subscriptions[topic] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.handleMessages()

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub, nil
}

// handleMessages processes messages for a subscription.
func (s *channelSubscription) handleMessages() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.msgCh:
			if !ok {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request implements request-reply pattern using channels.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(topic, payload)
	msg.Metadata[domain.MetadataReplyTo] = replyTopic

	b.mu.RLock()
	for _, s := range b.subscriptions[topic] {
		select {
		case s.msgCh <- msg:
		default:
		}
	}
	b.mu.RUnlock()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close closes the event bus.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
			close(sub.msgCh)
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
