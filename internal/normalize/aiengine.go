package normalize

import (
	"fmt"

	"github.com/alfredjeanlab/spine/internal/model"
)

var aiEngineTypes = typeTable{
	"lead.scored":     model.TypeAIScoring,
	"draft.generated": model.TypeAIDraftGenerated,
}

// Score thresholds for lead.scored events.
const (
	HighPriorityScore = 80
	HighIntentScore   = 90
)

// AIEngine normalizes events emitted by the internal scoring and drafting engine.
type AIEngine struct {
	Overlay *Overlay
}

// Normalize implements Normalizer.
func (a AIEngine) Normalize(raw map[string]any) (*model.Draft, error) {
	tenant := str(raw, tenantKeys...)
	if tenant == "" {
		return nil, missingField("tenant_id")
	}
	eventType := str(raw, "eventType", "event_type", "type")
	leadID := str(raw, "leadId", "lead_id")

	d := &model.Draft{
		TenantID:       tenant,
		Type:           resolveType(a.Overlay, string(model.SourceAIEngine), eventType, aiEngineTypes),
		Source:         model.SourceAIEngine,
		SourceSystem:   string(model.SourceAIEngine),
		SourceObjectID: str(raw, "id", "draftId", "draft_id", "leadId", "lead_id"),
		Title:          str(raw, "title"),
		Description:    str(raw, "reason", "summary", "description"),
		EntityID:       leadID,
		Metadata:       sourceMetadata(eventType, raw),
		CorrelationID:  str(raw, "correlationId", "correlation_id"),
	}
	if leadID != "" {
		d.EntityType = "lead"
	}

	switch eventType {
	case "lead.scored":
		d.SourceObjectType = "lead_score"
		if score, ok := num(raw, "score"); ok {
			d.Metadata["score"] = score
			if score >= HighPriorityScore {
				d.Priority = model.PriorityHigh
			}
			if score >= HighIntentScore {
				d.Type = model.TypeLeadHighIntent
				d.Tags = []string{"high-intent"}
			}
			if d.Title == "" {
				d.Title = fmt.Sprintf("Lead scored %g", score)
			}
		}
	case "draft.generated":
		d.SourceObjectType = "email_draft"
		if d.Title == "" {
			d.Title = "AI email draft generated"
		}
	}
	if d.Title == "" {
		d.Title = defaultTitle("AI engine", eventType)
	}
	d.Timestamp, _ = ExtractTimestamp(raw)
	return d, nil
}
