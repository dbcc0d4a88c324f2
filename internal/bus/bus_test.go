package bus

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicTransactionIngested, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitOrFail(t, &wg, time.Second)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicTransactionIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionIngested, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message ID")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var alerts, results atomic.Int32

		bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.TopicScoringResult, func(ctx context.Context, msg *domain.Message) error {
			results.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicAlert, []byte("a"))
		time.Sleep(50 * time.Millisecond)

		if alerts.Load() != 1 {
			t.Errorf("alert subscriber should receive 1 message, got %d", alerts.Load())
		}
		if results.Load() != 0 {
			t.Errorf("result subscriber should receive 0 messages, got %d", results.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("x")); err == nil {
			t.Error("expected error for empty topic")
		}
		if _, err := bus.Subscribe(ctx, "", nil); err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		for range 2 {
			bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitOrFail(t, &wg, time.Second)
	})

	t.Run("Request", func(t *testing.T) {
		bus.Subscribe(ctx, "echo.topic", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.Metadata[domain.MetadataReplyTo], append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, "echo.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected 're:ping', got %q", reply)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("EmptyTypeDefaultsToChannel", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for empty type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	type payload struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}

	got := make(chan payload, 1)
	_, err := bus.Subscribe(context.Background(), "json", func(ctx context.Context, msg *domain.Message) error {
		var p payload
		if err := DecodeJSON(msg, &p); err != nil {
			return err
		}
		got <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := PublishJSON(context.Background(), bus, "json", payload{ID: "tx-1", Score: 0.71}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	select {
	case p := <-got:
		if p.ID != "tx-1" || p.Score != 0.71 {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	t.Run("DecodeError", func(t *testing.T) {
		var p payload
		err := DecodeJSON(&domain.Message{Topic: "json", Payload: []byte("{")}, &p)
		if err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("EncodeError", func(t *testing.T) {
		if err := PublishJSON(context.Background(), bus, "json", make(chan int)); err == nil {
			t.Error("expected encode error")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for range messageCount {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitOrFail(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestNATSBus(t *testing.T) {
	url := os.Getenv("SPENDGUARD_TEST_NATS_URL")
	if url == "" {
		t.Skip("SPENDGUARD_TEST_NATS_URL not set")
	}

	bus, err := NewNATSBus(domain.EventBusConfig{NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)

	var got []byte
	_, err = bus.Subscribe(ctx, domain.TopicScoringResult, func(ctx context.Context, msg *domain.Message) error {
		got = msg.Payload
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, domain.TopicScoringResult, []byte(`{"id":"tx-1"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitOrFail(t, &wg, 2*time.Second)

	if string(got) != `{"id":"tx-1"}` {
		t.Errorf("unexpected payload %q", got)
	}

	t.Run("RequestReply", func(t *testing.T) {
		_, err := bus.Subscribe(ctx, "spendguard.test.echo", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.Metadata[domain.MetadataReplyTo], append([]byte("re:"), msg.Payload...))
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		reply, err := bus.Request(reqCtx, "spendguard.test.echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("unexpected reply %q", reply)
		}
	})
}

func TestNATSBusUnreachable(t *testing.T) {
	_, err := NewNATSBus(domain.EventBusConfig{
		NATSUrl:           "nats://127.0.0.1:1",
		NATSMaxReconnects: 1,
		NATSReconnectWait: 1,
	})
	if err == nil {
		t.Fatal("expected connection error")
	}
}
