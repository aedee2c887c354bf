// Package events is the message bus used to share activity deltas between
// spine instances and to accept ingestion traffic from other services.
package events

import (
	"context"
	"strings"
)

// Topic constants. Topics use NATS subject syntax; the Redis backend
// translates wildcards into channel patterns.
const (
	// TopicActivityDelta carries model.Delta values between instances.
	TopicActivityDelta = "spine.activity.delta"

	// TopicIngestPrefix prefixes raw source payloads: spine.ingest.<source>.
	TopicIngestPrefix = "spine.ingest."

	// TopicIngestAll matches every ingestion topic.
	TopicIngestAll = TopicIngestPrefix + ">"
)

// IngestTopic returns the topic a raw payload for source is published on.
func IngestTopic(source string) string {
	return TopicIngestPrefix + strings.ToLower(source)
}

// SourceFromTopic extracts <source> from spine.ingest.<source>.
func SourceFromTopic(topic string) (string, bool) {
	source, ok := strings.CutPrefix(topic, TopicIngestPrefix)
	if !ok || source == "" {
		return "", false
	}
	return source, true
}

// Message is one payload received from the bus along with the concrete
// topic it was published on.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
