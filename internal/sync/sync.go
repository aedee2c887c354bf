// Package sync periodically archives each configured tenant's activities as
// JSONL objects.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/alfredjeanlab/spine/internal/metrics"
)

// Destination is the interface for an archive target.
type Destination interface {
	// Write stores the JSONL payload under key.
	Write(ctx context.Context, key string, data []byte) error
}

// Scheduler runs periodic per-tenant exports to a destination.
type Scheduler struct {
	store    Lister
	dest     Destination
	tenants  []string
	prefix   string
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports each tenant's activities to
// dest under <prefix>/<tenant>.jsonl at the given interval.
func NewScheduler(s Lister, dest Destination, tenants []string, prefix string, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		dest:     dest,
		tenants:  tenants,
		prefix:   prefix,
		interval: interval,
		logger:   logger,
	}
}

// ObjectKey returns the archive key for tenantID.
func ObjectKey(prefix, tenantID string) string {
	return path.Join(prefix, tenantID+".jsonl")
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports every tenant once. A failing tenant does not stop the
// others.
func (s *Scheduler) SyncOnce(ctx context.Context) {
	var failed int
	for _, tenant := range s.tenants {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncTenant(ctx, tenant); err != nil {
			failed++
			metrics.ArchiveExports.WithLabelValues("error").Inc()
			s.logger.Error("archive export failed", "tenant_id", tenant, "err", err)
			continue
		}
		metrics.ArchiveExports.WithLabelValues("ok").Inc()
	}
	s.logger.Info("archive sync completed", "tenants", len(s.tenants), "failed", failed)
}

func (s *Scheduler) syncTenant(ctx context.Context, tenant string) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, tenant, &buf); err != nil {
		return err
	}
	key := ObjectKey(s.prefix, tenant)
	if err := s.dest.Write(ctx, key, buf.Bytes()); err != nil {
		return err
	}
	s.logger.Debug("archive exported", "tenant_id", tenant, "key", key, "bytes", buf.Len())
	return nil
}
