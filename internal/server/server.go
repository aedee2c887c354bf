// Package server exposes the activity store over HTTP (JSON, SSE and
// WebSocket) and gRPC, and pushes deltas to live subscribers after writes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/spine/internal/broadcast"
	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/normalize"
	"github.com/alfredjeanlab/spine/internal/store"
)

// DefaultKeepalive is the heartbeat interval on streaming connections.
const DefaultKeepalive = 30 * time.Second

// ActivityServer owns the store, ingestor, hub and fanout and serves the
// HTTP and gRPC surfaces.
type ActivityServer struct {
	store     store.Store
	ingestor  *normalize.Ingestor
	hub       *broadcast.Hub
	fanout    broadcast.Fanout
	keepalive time.Duration
	origins   []string
	now       func() time.Time
}

// Option configures an ActivityServer.
type Option func(*ActivityServer)

// WithFanout replaces the default local fanout. The fanout must eventually
// deliver into the server's hub, as broadcast.BusFanout with a Relay does.
func WithFanout(f broadcast.Fanout) Option {
	return func(s *ActivityServer) { s.fanout = f }
}

// WithKeepalive sets the heartbeat interval on streaming connections.
func WithKeepalive(d time.Duration) Option {
	return func(s *ActivityServer) {
		if d > 0 {
			s.keepalive = d
		}
	}
}

// WithWebSocketOrigins lists the cross-origin hosts (path.Match patterns
// such as "*.example.com") allowed to open the WebSocket stream. Same-origin
// and non-browser clients are always accepted.
func WithWebSocketOrigins(patterns []string) Option {
	return func(s *ActivityServer) { s.origins = patterns }
}

// WithOverlay installs a mapping overlay for the built-in normalizers.
func WithOverlay(o *normalize.Overlay) Option {
	return func(s *ActivityServer) { s.ingestor = normalize.NewIngestor(s.store, o) }
}

// NewActivityServer returns a server backed by st, fanning out through the
// hub directly unless WithFanout says otherwise.
func NewActivityServer(st store.Store, hub *broadcast.Hub, opts ...Option) *ActivityServer {
	s := &ActivityServer{
		store:     st,
		ingestor:  normalize.NewIngestor(st, nil),
		hub:       hub,
		fanout:    broadcast.NewLocalFanout(hub),
		keepalive: DefaultKeepalive,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingestor returns the server's ingestor so other transports can feed it.
func (s *ActivityServer) Ingestor() *normalize.Ingestor {
	return s.ingestor
}

// Hub returns the server's subscriber registry.
func (s *ActivityServer) Hub() *broadcast.Hub {
	return s.hub
}

// notify pushes a delta for a on its own goroutine. The write path never
// waits for it and its failures never reach the caller.
func (s *ActivityServer) notify(action model.DeltaAction, a *model.Activity) {
	s.publish(model.NewActivityDelta(action, a, s.now()))
}

func (s *ActivityServer) publish(d *model.Delta) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.fanout.Publish(ctx, d); err != nil {
			slog.Debug("fanout failed", "tenant_id", d.TenantID, "action", d.Action, "err", err)
		}
	}()
}

// submit stores d and announces it when it is new.
func (s *ActivityServer) submit(ctx context.Context, d *model.Draft) (*model.Activity, bool, error) {
	a, created, err := s.ingestor.Submit(ctx, d)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notify(model.ActionCreated, a)
	}
	return a, created, nil
}

// ingest normalizes raw from source, stores it and announces it when new.
func (s *ActivityServer) ingest(ctx context.Context, source string, raw map[string]any) (*model.Activity, bool, error) {
	a, created, err := s.ingestor.Ingest(ctx, source, raw)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notify(model.ActionCreated, a)
	}
	return a, created, nil
}

// markRead marks one activity read and announces the change.
func (s *ActivityServer) markRead(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	a, changed, err := s.store.MarkAsRead(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notify(model.ActionUpdated, a)
	}
	return a, nil
}

// markAllRead marks every unread activity of the tenant read and, when any
// changed, announces it with a single read-all delta.
func (s *ActivityServer) markAllRead(ctx context.Context, tenantID string) (int, error) {
	n, err := s.store.MarkAllAsRead(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(model.NewReadAllDelta(tenantID, n, s.now()))
	}
	return n, nil
}

// errorKind classifies an error for the transport layers.
type errorKind int

const (
	kindInternal errorKind = iota
	kindInvalid
	kindNotFound
	kindConflict
)

func classify(err error) errorKind {
	var ve *model.ValidationError
	var ie inputError
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		return kindInvalid
	case errors.Is(err, store.ErrNotFound):
		return kindNotFound
	case errors.Is(err, store.ErrKeyConflict):
		return kindConflict
	}
	return kindInternal
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
