package normalize

import (
	"strings"

	"github.com/alfredjeanlab/spine/internal/model"
)

var salesforceTypes = typeTable{
	"OpportunityCreated":    model.TypeLeadCreated,
	"LeadCreated":           model.TypeLeadCreated,
	"ContactCreated":        model.TypeLeadCreated,
	"OpportunityUpdated":    model.TypeLeadUpdated,
	"LeadUpdated":           model.TypeLeadUpdated,
	"LeadConverted":         model.TypeLeadUpdated,
	"OpportunityClosedWon":  model.TypeDealUpdated,
	"OpportunityClosedLost": model.TypeDealUpdated,
	"TaskCompleted":         model.TypeEmailSent,
	"EmailMessage":          model.TypeEmailSent,
	"EventCreated":          model.TypeMeetingScheduled,
	"CampaignCreated":       model.TypeCampaignLaunched,
	"CampaignActivated":     model.TypeCampaignLaunched,
}

// sobject prefixes used to infer the object type from the event name.
var salesforceObjects = []string{"Opportunity", "Lead", "Contact", "Campaign", "Task", "EmailMessage", "Event", "Account"}

// Salesforce normalizes Salesforce outbound messages and platform events.
type Salesforce struct {
	Overlay *Overlay
}

// Normalize implements Normalizer.
func (s Salesforce) Normalize(raw map[string]any) (*model.Draft, error) {
	tenant := str(raw, tenantKeys...)
	if tenant == "" {
		return nil, missingField("tenant_id")
	}
	eventType := str(raw, "eventType", "event_type", "type")
	objectType := str(raw, "sobjectType", "objectType")
	if objectType == "" {
		objectType = salesforceObjectType(eventType)
	}
	objectID := str(raw, "Id", "id", "recordId")

	d := &model.Draft{
		TenantID:         tenant,
		Type:             resolveType(s.Overlay, string(model.SourceSalesforce), eventType, salesforceTypes),
		Source:           model.SourceSalesforce,
		SourceSystem:     string(model.SourceSalesforce),
		SourceObjectID:   objectID,
		SourceObjectType: objectType,
		Title:            str(raw, "Name", "Subject", "title"),
		Description:      str(raw, "Description", "description"),
		EntityID:         objectID,
		EntityType:       strings.ToLower(objectType),
		UserID:           str(raw, "OwnerId", "ownerId", "userId"),
		UserName:         str(raw, "OwnerName", "ownerName", "userName"),
		Metadata:         sourceMetadata(eventType, raw),
		CorrelationID:    str(raw, "correlationId", "correlation_id"),
	}
	if d.Title == "" {
		d.Title = defaultTitle("Salesforce", eventType)
	}
	switch eventType {
	case "OpportunityClosedWon":
		d.Priority = model.PriorityHigh
		d.Tags = []string{"won"}
	case "OpportunityClosedLost":
		d.Tags = []string{"lost"}
	}
	d.Timestamp, _ = ExtractTimestamp(raw)
	return d, nil
}

func salesforceObjectType(eventType string) string {
	for _, prefix := range salesforceObjects {
		if strings.HasPrefix(eventType, prefix) {
			return prefix
		}
	}
	return ""
}
