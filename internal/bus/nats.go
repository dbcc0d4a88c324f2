package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// NATSBus carries pipeline topics over NATS so API and workers can run as
// separate processes. Topics are used as subjects unchanged.
type NATSBus struct {
	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	queueGroup    string
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. The initial connect is retried
// NATSMaxReconnects times, NATSReconnectWait seconds apart; after that the
// client's own reconnect logic takes over.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("spendguard"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected",
				"error", err,
				"will_reconnect", !nc.IsClosed(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error",
				"subject", subject,
				"error", err,
			)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	retries := cfg.NATSMaxReconnects - 1
	if retries < 0 {
		retries = 0
	}

	var conn *nats.Conn
	attempt := 0
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), uint64(retries))
	err := backoff.Retry(func() error {
		attempt++
		c, err := nats.Connect(cfg.NATSUrl, opts...)
		if err != nil {
			slog.Warn("NATS connection attempt failed",
				"attempt", attempt,
				"max_attempts", cfg.NATSMaxReconnects,
				"error", err,
			)
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS after %d attempts: %w", attempt, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		queueGroup:    cfg.NATSQueueGroup,
	}, nil
}

// Publish wraps payload in a domain.Message envelope and sends it.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe delivers each message on topic to handler. With a queue group
// configured, only one subscriber in the group receives a given message.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	cb := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message",
				"subject", m.Subject,
				"error", err,
			)
			return
		}
		if m.Reply != "" {
			msg.Metadata = ensureMetadata(msg.Metadata)
			msg.Metadata[domain.MetadataReplyTo] = m.Reply
		}

		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	if b.queueGroup != "" {
		natsSub, err = b.conn.QueueSubscribe(topic, b.queueGroup, cb)
	} else {
		natsSub, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    uuid.NewString(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request sends a message and waits for one reply until ctx is done.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	reply, err := b.conn.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return replyMsg.Payload, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subscriptions {
		_ = sub.sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}

func ensureMetadata(m map[string]string) map[string]string {
	if m == nil {
		return make(map[string]string)
	}
	return m
}
