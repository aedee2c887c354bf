package normalize

import (
	"strings"

	"github.com/alfredjeanlab/spine/internal/model"
)

var outreachTypes = typeTable{
	"sequence.started":  model.TypeCampaignLaunched,
	"sequence.paused":   model.TypeCampaignPaused,
	"mailing.delivered": model.TypeEmailSent,
	"mailing.opened":    model.TypeEmailOpened,
	"mailing.replied":   model.TypeEmailReplied,
	"mailing.bounced":   model.TypeEmailBounced,
}

// Outreach normalizes Outreach webhooks, which wrap the resource in a
// JSON:API envelope ({"data": {...}, "meta": {"eventName": ...}}). Flat
// payloads are accepted too.
type Outreach struct {
	Overlay *Overlay
}

// Normalize implements Normalizer.
func (o Outreach) Normalize(raw map[string]any) (*model.Draft, error) {
	tenant := str(raw, tenantKeys...)
	if tenant == "" {
		return nil, missingField("tenant_id")
	}
	data := obj(raw, "data")
	attrs := obj(data, "attributes")
	if attrs == nil {
		attrs = raw
	}

	eventType := str(obj(raw, "meta"), "eventName")
	if eventType == "" {
		eventType = str(raw, "eventName", "event", "eventType")
	}
	objectType := str(data, "type")
	if objectType == "" {
		objectType, _, _ = strings.Cut(eventType, ".")
	}
	objectID := str(data, "id")
	if objectID == "" {
		objectID = str(raw, "id", "objectId")
	}

	d := &model.Draft{
		TenantID:         tenant,
		Type:             resolveType(o.Overlay, string(model.SourceOutreach), eventType, outreachTypes),
		Source:           model.SourceOutreach,
		SourceSystem:     string(model.SourceOutreach),
		SourceObjectID:   objectID,
		SourceObjectType: objectType,
		Title:            str(attrs, "subject", "name", "title"),
		Description:      str(attrs, "description"),
		EntityID:         str(attrs, "prospectId", "prospect_id"),
		UserID:           str(attrs, "userId", "user_id"),
		Metadata:         sourceMetadata(eventType, raw),
		CorrelationID:    str(raw, "correlationId", "correlation_id"),
	}
	if d.EntityID != "" {
		d.EntityType = "lead"
	}
	if d.Title == "" {
		d.Title = defaultTitle("Outreach", eventType)
	}
	switch d.Type {
	case model.TypeEmailReplied:
		d.Priority = model.PriorityHigh
	case model.TypeEmailBounced:
		d.Status = model.StatusFailed
	}
	if ts, ok := ExtractTimestamp(attrs); ok {
		d.Timestamp = ts
	} else {
		d.Timestamp, _ = ExtractTimestamp(raw)
	}
	return d, nil
}
