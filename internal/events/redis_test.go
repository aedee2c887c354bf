package events

import (
	"context"
	"os"
	"testing"
	"time"
)

// newTestRedisBus connects to SPINE_TEST_REDIS_URL (default localhost) and
// skips the test when no server is reachable.
func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	url := os.Getenv("SPINE_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus, err := NewRedisBus(ctx, url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	bus := newTestRedisBus(t)

	ch, cancel, err := bus.Subscribe(TopicActivityDelta)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := bus.Publish(context.Background(), TopicActivityDelta, map[string]string{"action": "created"}); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != TopicActivityDelta {
			t.Errorf("got topic %q, want %q", msg.Topic, TopicActivityDelta)
		}
		if string(msg.Data) != `{"action":"created"}` {
			t.Errorf("got %s", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisBus_WildcardSubscribe(t *testing.T) {
	bus := newTestRedisBus(t)

	ch, cancel, err := bus.Subscribe(TopicIngestAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := bus.Publish(context.Background(), IngestTopic("hubspot"), []byte(`{}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	select {
	case msg := <-ch:
		source, ok := SourceFromTopic(msg.Topic)
		if !ok || source != "hubspot" {
			t.Errorf("got topic %q, want spine.ingest.hubspot", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisBus_Cancel(t *testing.T) {
	bus := newTestRedisBus(t)

	ch, cancel, err := bus.Subscribe(TopicActivityDelta)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestRedisBus_ConsumeKeepsBurst(t *testing.T) {
	bus := newTestRedisBus(t)
	const n = subscriptionBuffer * 10
	got := consumeBurst(t, bus, func(ctx context.Context, topic string, data []byte) error {
		return bus.Publish(ctx, topic, data)
	}, n)
	if got != n {
		t.Fatalf("consumed %d of %d messages", got, n)
	}
}
