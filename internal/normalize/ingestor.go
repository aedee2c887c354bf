package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alfredjeanlab/spine/internal/metrics"
	"github.com/alfredjeanlab/spine/internal/model"
)

// Creator is the part of the activity store the ingestor writes through.
type Creator interface {
	CreateEvent(ctx context.Context, d *model.Draft) (*model.Activity, bool, error)
}

// Ingestor routes raw payloads to the normalizer registered for their
// source. Unknown sources go to the webhook normalizer.
type Ingestor struct {
	store    Creator
	mu       sync.RWMutex
	registry map[string]Normalizer
	fallback Normalizer
}

// NewIngestor returns an ingestor with the built-in normalizers registered.
// overlay may be nil.
func NewIngestor(store Creator, overlay *Overlay) *Ingestor {
	in := &Ingestor{
		store:    store,
		registry: make(map[string]Normalizer),
		fallback: Webhook{Overlay: overlay},
	}
	in.Register(string(model.SourceSalesforce), Salesforce{Overlay: overlay})
	in.Register(string(model.SourceHubSpot), HubSpot{Overlay: overlay})
	in.Register(string(model.SourceOutreach), Outreach{Overlay: overlay})
	in.Register(string(model.SourceAIEngine), AIEngine{Overlay: overlay})
	in.Register(string(model.SourceWebhook), in.fallback)
	in.Register(string(model.SourceInternal), in.fallback)
	return in
}

// Register adds or replaces the normalizer for source.
func (in *Ingestor) Register(source string, n Normalizer) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.registry[strings.ToLower(source)] = n
}

// Sources returns the registered source names in sorted order.
func (in *Ingestor) Sources() []string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]string, 0, len(in.registry))
	for s := range in.registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Normalize turns raw into a draft without storing it.
func (in *Ingestor) Normalize(source string, raw map[string]any) (*model.Draft, error) {
	key := strings.ToLower(strings.TrimSpace(source))
	in.mu.RLock()
	n, known := in.registry[key]
	in.mu.RUnlock()
	if !known {
		n = in.fallback
	}
	d, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if !known && key != "" && d.SourceSystem == "" {
		// Keep keys of unregistered integrations apart from plain webhooks.
		d.SourceSystem = key
	}
	return d, nil
}

// Ingest normalizes raw and stores the result. created is false when the
// payload resolved to an already-stored activity.
func (in *Ingestor) Ingest(ctx context.Context, source string, raw map[string]any) (*model.Activity, bool, error) {
	d, err := in.Normalize(source, raw)
	if err != nil {
		metrics.IngestErrors.WithLabelValues(metricSource(source)).Inc()
		return nil, false, err
	}
	return in.Submit(ctx, d)
}

// Submit stores an already-canonical draft.
func (in *Ingestor) Submit(ctx context.Context, d *model.Draft) (*model.Activity, bool, error) {
	label := metricSource(string(d.Source))
	a, created, err := in.store.CreateEvent(ctx, d)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			metrics.IngestErrors.WithLabelValues(label).Inc()
			return nil, false, err
		}
		return nil, false, fmt.Errorf("storing activity: %w", err)
	}
	if created {
		metrics.ActivitiesIngested.WithLabelValues(label).Inc()
		slog.Debug("activity ingested", "tenant_id", a.TenantID, "activity_id", a.ID, "type", a.Type)
	} else {
		metrics.ActivitiesDeduplicated.WithLabelValues(label).Inc()
		slog.Debug("duplicate activity", "tenant_id", a.TenantID, "activity_id", a.ID)
	}
	return a, created, nil
}

// metricSource bounds label cardinality to the known sources.
func metricSource(source string) string {
	if s := model.Source(strings.ToLower(source)); s.IsValid() {
		return string(s)
	}
	return "other"
}
