package normalize

import (
	"strings"

	"github.com/alfredjeanlab/spine/internal/model"
)

var hubspotTypes = typeTable{
	"contact.creation":       model.TypeLeadCreated,
	"contact.propertyChange": model.TypeLeadUpdated,
	"deal.creation":          model.TypeDealUpdated,
	"deal.propertyChange":    model.TypeDealUpdated,
	"email.open":             model.TypeEmailOpened,
	"email.click":            model.TypeEmailClicked,
	"email.reply":            model.TypeEmailReplied,
	"email.bounce":           model.TypeEmailBounced,
	"meeting.created":        model.TypeMeetingScheduled,
}

var hubspotEntities = map[string]string{
	"contact": "lead",
	"deal":    "deal",
	"meeting": "meeting",
	"email":   "email",
}

// HubSpot normalizes HubSpot webhook subscription events.
type HubSpot struct {
	Overlay *Overlay
}

// Normalize implements Normalizer.
func (h HubSpot) Normalize(raw map[string]any) (*model.Draft, error) {
	tenant := str(raw, tenantKeys...)
	if tenant == "" {
		return nil, missingField("tenant_id")
	}
	eventType := str(raw, "subscriptionType", "eventType")
	objectType, _, _ := strings.Cut(eventType, ".")
	objectID := str(raw, "objectId", "object_id", "id")

	d := &model.Draft{
		TenantID:         tenant,
		Type:             resolveType(h.Overlay, string(model.SourceHubSpot), eventType, hubspotTypes),
		Source:           model.SourceHubSpot,
		SourceSystem:     string(model.SourceHubSpot),
		SourceObjectID:   objectID,
		SourceObjectType: objectType,
		Title:            str(raw, "title", "subject"),
		Description:      str(raw, "description"),
		EntityID:         objectID,
		EntityType:       hubspotEntities[objectType],
		UserID:           str(raw, "userId", "sourceId"),
		Metadata:         sourceMetadata(eventType, raw),
		CorrelationID:    str(raw, "correlationId", "correlation_id"),
	}
	if prop := str(raw, "propertyName"); prop != "" {
		d.Metadata["property"] = prop
		d.Metadata["value"] = raw["propertyValue"]
	}
	if d.Title == "" {
		d.Title = defaultTitle("HubSpot", eventType)
	}
	switch d.Type {
	case model.TypeEmailReplied:
		d.Priority = model.PriorityHigh
	case model.TypeEmailBounced:
		d.Status = model.StatusFailed
	}
	d.Timestamp, _ = ExtractTimestamp(raw)
	return d, nil
}
