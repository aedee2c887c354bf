package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/store"
	"github.com/alfredjeanlab/spine/internal/store/memory"
)

func TestIngestor_Sources(t *testing.T) {
	in := NewIngestor(memory.New(), nil)
	assert.Equal(t, []string{"ai-engine", "hubspot", "internal", "outreach", "salesforce", "webhook"}, in.Sources())
}

func TestIngestor_IngestSalesforce(t *testing.T) {
	st := memory.New()
	in := NewIngestor(st, nil)
	ctx := context.Background()

	raw := map[string]any{
		"tenantId":  "tenant-a",
		"eventType": "OpportunityClosedWon",
		"Id":        "006xx000001",
		"Name":      "Acme <b>renewal</b>",
		"timestamp": "2024-03-01T10:00:00.000Z",
	}
	a, created, err := in.Ingest(ctx, "salesforce", raw)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.TypeDealUpdated, a.Type)
	assert.Equal(t, "Acme renewal", a.Title)
	assert.Equal(t, model.IdempotencyKey("salesforce", "006xx000001", "2024-03-01T10:00:00.000Z"), a.IdempotencyKey)

	// Redelivery of the same payload resolves to the stored activity.
	again, created, err := in.Ingest(ctx, "Salesforce", raw)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, 1, st.Len())
}

func TestIngestor_UnknownSourceUsesWebhook(t *testing.T) {
	in := NewIngestor(memory.New(), nil)

	a, created, err := in.Ingest(context.Background(), "Zendesk", map[string]any{
		"tenantId": "t",
		"type":     "ticket.created",
		"id":       "z-1",
		"title":    "New ticket",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.SourceWebhook, a.Source)
	assert.Equal(t, "zendesk", a.SourceSystem)
	assert.Equal(t, model.TypeGeneric, a.Type)
}

func TestIngestor_NormalizeError(t *testing.T) {
	st := memory.New()
	in := NewIngestor(st, nil)
	_, _, err := in.Ingest(context.Background(), "hubspot", map[string]any{"subscriptionType": "email.open"})
	requireMissingTenant(t, err)
	assert.Equal(t, 0, st.Len())
}

func TestIngestor_SubmitValidationError(t *testing.T) {
	in := NewIngestor(memory.New(), nil)
	_, _, err := in.Submit(context.Background(), &model.Draft{TenantID: "t", Type: "bogus", Source: model.SourceInternal, Title: "x"})
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
}

type failingStore struct{ err error }

func (f failingStore) CreateEvent(context.Context, *model.Draft) (*model.Activity, bool, error) {
	return nil, false, f.err
}

func TestIngestor_SubmitWrapsStoreErrors(t *testing.T) {
	in := NewIngestor(failingStore{err: store.ErrKeyConflict}, nil)
	_, _, err := in.Submit(context.Background(), &model.Draft{TenantID: "t", Type: model.TypeGeneric, Source: model.SourceInternal, Title: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrKeyConflict)
	assert.Contains(t, err.Error(), "storing activity")
}

func TestIngestor_Register(t *testing.T) {
	in := NewIngestor(memory.New(), nil)
	in.Register("Gong", NormalizerFunc(func(raw map[string]any) (*model.Draft, error) {
		return &model.Draft{
			TenantID:       str(raw, "tenantId"),
			Type:           model.TypeMeetingScheduled,
			Source:         model.SourceInternal,
			SourceSystem:   "gong",
			SourceObjectID: str(raw, "callId"),
			Title:          "Call recorded",
		}, nil
	}))
	assert.Contains(t, in.Sources(), "gong")

	a, _, err := in.Ingest(context.Background(), "gong", map[string]any{"tenantId": "t", "callId": "c-1"})
	require.NoError(t, err)
	assert.Equal(t, model.TypeMeetingScheduled, a.Type)
	assert.Equal(t, "gong", a.SourceSystem)
}

func TestMetricSource(t *testing.T) {
	assert.Equal(t, "salesforce", metricSource("Salesforce"))
	assert.Equal(t, "other", metricSource("zendesk"))
}
