package model

import (
	"encoding/json"
	"time"
)

// ActivityType is the canonical kind of an activity event.
type ActivityType string

const (
	TypeCampaignLaunched       ActivityType = "campaign-launched"
	TypeCampaignPaused         ActivityType = "campaign-paused"
	TypeCampaignCompleted      ActivityType = "campaign-completed"
	TypeLeadCreated            ActivityType = "lead-created"
	TypeLeadUpdated            ActivityType = "lead-updated"
	TypeLeadHighIntent         ActivityType = "lead-high-intent"
	TypeEmailSent              ActivityType = "email-sent"
	TypeEmailOpened            ActivityType = "email-opened"
	TypeEmailClicked           ActivityType = "email-clicked"
	TypeEmailReplied           ActivityType = "email-replied"
	TypeEmailBounced           ActivityType = "email-bounced"
	TypeMeetingScheduled       ActivityType = "meeting-scheduled"
	TypeDealUpdated            ActivityType = "deal-updated"
	TypeAIScoring              ActivityType = "ai-scoring"
	TypeAIDraftGenerated       ActivityType = "ai-draft-generated"
	TypeSystemIntegrationError ActivityType = "system-integration-error"
	TypeSystemSyncCompleted    ActivityType = "system-sync-completed"

	// TypeGeneric is the fallback for source event types with no mapping.
	TypeGeneric ActivityType = "generic"
)

// AllTypes lists every known activity type.
var AllTypes = []ActivityType{
	TypeCampaignLaunched, TypeCampaignPaused, TypeCampaignCompleted,
	TypeLeadCreated, TypeLeadUpdated, TypeLeadHighIntent,
	TypeEmailSent, TypeEmailOpened, TypeEmailClicked, TypeEmailReplied, TypeEmailBounced,
	TypeMeetingScheduled, TypeDealUpdated,
	TypeAIScoring, TypeAIDraftGenerated,
	TypeSystemIntegrationError, TypeSystemSyncCompleted,
	TypeGeneric,
}

func (t ActivityType) String() string { return string(t) }

// IsValid checks whether the type is a known value.
func (t ActivityType) IsValid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Source identifies the system an activity originated from.
type Source string

const (
	SourceInternal   Source = "internal"
	SourceSalesforce Source = "salesforce"
	SourceHubSpot    Source = "hubspot"
	SourceOutreach   Source = "outreach"
	SourceWebhook    Source = "webhook"
	SourceAIEngine   Source = "ai-engine"
)

// AllSources lists every known source.
var AllSources = []Source{
	SourceInternal, SourceSalesforce, SourceHubSpot, SourceOutreach, SourceWebhook, SourceAIEngine,
}

func (s Source) String() string { return string(s) }

// IsValid checks whether the source is a known value.
func (s Source) IsValid() bool {
	switch s {
	case SourceInternal, SourceSalesforce, SourceHubSpot, SourceOutreach, SourceWebhook, SourceAIEngine:
		return true
	}
	return false
}

// Status is the processing state of the activity in its source system.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every known status.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) String() string { return string(s) }

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Priority ranks how urgently an activity should be surfaced.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AllPriorities lists every priority from lowest to highest.
var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) String() string { return string(p) }

// IsValid checks whether the priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities from low (0) to critical (3). Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

// Activity is the canonical, stored activity event. Everything except Read
// and ReadAt is immutable once created.
type Activity struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	Type             ActivityType    `json:"type"`
	Source           Source          `json:"source"`
	Status           Status          `json:"status"`
	Priority         Priority        `json:"priority"`
	SourceSystem     string          `json:"source_system"`
	SourceObjectID   string          `json:"source_object_id"`
	SourceObjectType string          `json:"source_object_type,omitempty"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	EntityID         string          `json:"entity_id,omitempty"`
	EntityType       string          `json:"entity_type,omitempty"`
	UserID           string          `json:"user_id,omitempty"`
	UserName         string          `json:"user_name,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	CreatedAt        time.Time       `json:"created_at"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Read             bool            `json:"read"`
	ReadAt           *time.Time      `json:"read_at,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
}

// View returns the client-facing projection of the activity, which omits
// the idempotency key.
func (a *Activity) View() *Activity {
	if a == nil {
		return nil
	}
	v := *a
	v.IdempotencyKey = ""
	return &v
}

// HasTag reports whether the activity carries the given tag.
func (a *Activity) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
