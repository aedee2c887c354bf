package server

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/spine/internal/events"
)

// ingestQueue is the queue group spine instances share on NATS, so each
// payload is ingested by one of them.
const ingestQueue = "spine-ingest"

// RunBusIngest consumes raw payloads published on spine.ingest.<source> and
// ingests each exactly as POST /v1/ingest/{source} would. Payloads are read
// one at a time and none are dropped. It returns when ctx is done or the
// bus connection closes.
func (s *ActivityServer) RunBusIngest(ctx context.Context, sub events.Subscriber) error {
	slog.Info("bus ingestion started", "topic", events.TopicIngestAll)
	return sub.Consume(ctx, events.TopicIngestAll, ingestQueue, func(msg events.Message) {
		s.ingestMessage(ctx, msg)
	})
}

func (s *ActivityServer) ingestMessage(ctx context.Context, msg events.Message) {
	source, ok := events.SourceFromTopic(msg.Topic)
	if !ok {
		slog.Debug("bus ingestion: ignoring topic", "topic", msg.Topic)
		return
	}
	raw, err := decodePayload(bytes.NewReader(msg.Data))
	if err != nil {
		slog.Warn("bus ingestion: undecodable payload", "source", source, "err", err)
		return
	}
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	a, created, err := s.ingest(ictx, source, raw)
	if err != nil {
		slog.Warn("bus ingestion failed", "source", source, "err", err)
		return
	}
	slog.Debug("bus ingestion", "source", source, "tenant_id", a.TenantID, "activity_id", a.ID, "created", created)
}
