package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/spine/internal/events"
	"github.com/alfredjeanlab/spine/internal/model"
)

// Fanout carries a delta from the instance that wrote it to every hub that
// has subscribers for the tenant.
type Fanout interface {
	Publish(ctx context.Context, d *model.Delta) error
	Close() error
}

// LocalFanout delivers straight into a single in-process hub.
type LocalFanout struct {
	hub *Hub
}

func NewLocalFanout(hub *Hub) *LocalFanout {
	return &LocalFanout{hub: hub}
}

func (f *LocalFanout) Publish(_ context.Context, d *model.Delta) error {
	f.hub.Deliver(d)
	return nil
}

func (f *LocalFanout) Close() error { return nil }

// BusFanout publishes deltas on the event bus. Each instance runs a Relay
// that feeds them into its own hub, including the publishing instance.
type BusFanout struct {
	pub events.Publisher
}

func NewBusFanout(pub events.Publisher) *BusFanout {
	return &BusFanout{pub: pub}
}

func (f *BusFanout) Publish(ctx context.Context, d *model.Delta) error {
	return f.pub.Publish(ctx, events.TopicActivityDelta, d)
}

func (f *BusFanout) Close() error {
	return f.pub.Close()
}

// Relay feeds deltas received from the bus into a local hub.
type Relay struct {
	hub    *Hub
	sub    events.Subscriber
	logger *slog.Logger
}

// NewRelay creates a relay. A nil logger uses slog.Default().
func NewRelay(hub *Hub, sub events.Subscriber, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{hub: hub, sub: sub, logger: logger}
}

// Run subscribes to the delta topic and delivers until ctx is done or the
// subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(events.TopicActivityDelta)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d model.Delta
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				r.logger.Debug("relay: dropping undecodable delta", "err", err)
				continue
			}
			r.hub.Deliver(&d)
		}
	}
}
