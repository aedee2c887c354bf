package normalize

import (
	"github.com/alfredjeanlab/spine/internal/model"
)

// Webhook accepts payloads that already use canonical field names. It is
// also the fallback for sources with no registered normalizer.
type Webhook struct {
	Overlay *Overlay
}

// Normalize implements Normalizer.
func (w Webhook) Normalize(raw map[string]any) (*model.Draft, error) {
	tenant := str(raw, tenantKeys...)
	if tenant == "" {
		return nil, missingField("tenant_id")
	}
	eventType := str(raw, "type", "eventType", "event")

	typ := model.ActivityType(eventType)
	if !typ.IsValid() {
		typ = resolveType(w.Overlay, string(model.SourceWebhook), eventType, nil)
	}
	source := model.Source(str(raw, "source"))
	if !source.IsValid() {
		source = model.SourceWebhook
	}

	d := &model.Draft{
		TenantID:         tenant,
		Type:             typ,
		Source:           source,
		Status:           model.Status(str(raw, "status")),
		Priority:         model.Priority(str(raw, "priority")),
		SourceSystem:     str(raw, "source_system", "sourceSystem"),
		SourceObjectID:   str(raw, "source_object_id", "sourceObjectId", "id", "objectId"),
		SourceObjectType: str(raw, "source_object_type", "sourceObjectType", "objectType"),
		Title:            str(raw, "title", "name", "subject", "summary"),
		Description:      str(raw, "description", "body", "message"),
		EntityID:         str(raw, "entity_id", "entityId"),
		EntityType:       str(raw, "entity_type", "entityType"),
		UserID:           str(raw, "user_id", "userId"),
		UserName:         str(raw, "user_name", "userName"),
		Tags:             strList(raw["tags"]),
		CorrelationID:    str(raw, "correlation_id", "correlationId"),
	}
	// Unknown enum values from a loosely-typed sender fall back to defaults
	// rather than failing the whole payload.
	if !d.Status.IsValid() {
		d.Status = ""
	}
	if !d.Priority.IsValid() {
		d.Priority = ""
	}
	if meta := obj(raw, "metadata"); meta != nil {
		d.Metadata = meta
	}
	if typ == model.TypeGeneric && eventType != "" && eventType != string(model.TypeGeneric) {
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		d.Metadata["source_event_type"] = eventType
	}
	if d.Title == "" {
		d.Title = defaultTitle("Webhook", eventType)
	}
	d.Timestamp, _ = ExtractTimestamp(raw)
	return d, nil
}
