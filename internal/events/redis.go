package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes and subscribes over Redis pub/sub. One client serves
// both directions.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to the Redis server at url (redis://host:port/db).
func NewRedisBus(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, event any) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, data).Err()
}

// Subscribe listens on topic. NATS-style wildcards become a pattern
// subscription: "*" matches one token and a trailing ">" matches the rest.
func (b *RedisBus) Subscribe(topic string) (<-chan Message, func(), error) {
	ctx, stop := context.WithCancel(context.Background())

	ps, err := b.pubsub(ctx, topic)
	if err != nil {
		stop()
		return nil, nil, err
	}

	ch := make(chan Message, subscriptionBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case ch <- Message{Topic: msg.Channel, Data: []byte(msg.Payload)}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = ps.Close()
			<-done
		})
	}
	return ch, cancel, nil
}

// Consume reads topic one message at a time straight off the connection.
// Redis pub/sub has no queue groups, so queue is ignored and every instance
// sees every message.
func (b *RedisBus) Consume(ctx context.Context, topic, _ string, handle func(Message)) error {
	ps, err := b.pubsub(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer ps.Close()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		switch {
		case err == nil:
			handle(Message{Topic: msg.Channel, Data: []byte(msg.Payload)})
			continue
		case ctx.Err() != nil, errors.Is(err, redis.ErrClosed):
			return nil
		}
		// The next receive reconnects and resubscribes.
		slog.Warn("redis consume: receive failed", "topic", topic, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// pubsub subscribes to topic, using a pattern subscription for wildcards,
// and waits for the confirmation so messages published right after it
// returns are not missed.
func (b *RedisBus) pubsub(ctx context.Context, topic string) (*redis.PubSub, error) {
	var ps *redis.PubSub
	if pattern, ok := redisPattern(topic); ok {
		ps = b.client.PSubscribe(ctx, pattern)
	} else {
		ps = b.client.Subscribe(ctx, topic)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return ps, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// redisPattern converts a NATS subject with wildcards into a Redis glob.
func redisPattern(topic string) (string, bool) {
	if !strings.ContainsAny(topic, "*>") {
		return topic, false
	}
	tokens := strings.Split(topic, ".")
	for i, tok := range tokens {
		if tok == ">" && i == len(tokens)-1 {
			tokens[i] = "*"
		}
	}
	return strings.Join(tokens, "."), true
}
