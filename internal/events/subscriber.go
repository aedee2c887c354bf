package events

import "context"

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages for topic, which may contain wildcards,
	// on the returned channel. Call the returned cancel function to
	// unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)

	// Consume hands every message on topic to handle, in arrival order,
	// until ctx is done. Nothing is dropped: a slow handler holds up
	// delivery instead. Consumers sharing a non-empty queue name split the
	// stream between them where the backend supports it.
	Consume(ctx context.Context, topic, queue string, handle func(Message)) error

	Close() error
}

// subscriptionBuffer bounds each Subscribe channel. Messages arriving
// while it is full are dropped rather than blocking the client.
const subscriptionBuffer = 64
