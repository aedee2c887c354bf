package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// encode JSON-encodes event unless it is already a byte payload.
func encode(event any) ([]byte, error) {
	switch v := event.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return data, nil
}

// NATSPublisher publishes events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("spine-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(topic, data)
}

// Flush blocks until the server has processed everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("spine-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel of messages for the given subject (supports
// NATS wildcards like "spine.ingest.>").
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriptionBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- Message{Topic: msg.Subject, Data: msg.Data}:
		default:
			// Drop message if channel is full to avoid blocking the NATS client.
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, cancel, nil
}

// Consume reads topic through a synchronous subscription with no pending
// limit, so a burst waits in the client rather than being discarded as a
// slow consumer. A non-empty queue joins a NATS queue group.
func (s *NATSSubscriber) Consume(ctx context.Context, topic, queue string, handle func(Message)) error {
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = s.conn.QueueSubscribeSync(topic, queue)
	} else {
		sub, err = s.conn.SubscribeSync(topic)
	}
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := sub.SetPendingLimits(-1, -1); err != nil {
		return fmt.Errorf("setting pending limits on %s: %w", topic, err)
	}
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flushing subscription: %w", err)
	}

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		switch {
		case err == nil:
			handle(Message{Topic: msg.Subject, Data: msg.Data})
		case ctx.Err() != nil,
			errors.Is(err, nats.ErrConnectionClosed),
			errors.Is(err, nats.ErrBadSubscription):
			return nil
		default:
			return fmt.Errorf("receiving from %s: %w", topic, err)
		}
	}
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
