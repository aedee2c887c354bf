package model

import "time"

// DeltaAction describes what happened to an activity.
type DeltaAction string

const (
	ActionConnected DeltaAction = "connected"
	ActionCreated   DeltaAction = "created"
	ActionUpdated   DeltaAction = "updated"
)

// Delta is an incremental push message sent to a tenant's live subscribers.
type Delta struct {
	Action       DeltaAction `json:"action"`
	TenantID     string      `json:"tenant_id"`
	Activity     *Activity   `json:"activity,omitempty"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`

	// ReadAll marks an updated delta that covers every activity the tenant
	// had unread; Count is how many changed. Such deltas carry no Activity.
	ReadAll bool `json:"read_all,omitempty"`
	Count   int  `json:"count,omitempty"`
}

// NewActivityDelta builds a created/updated delta carrying the client-facing
// projection of a.
func NewActivityDelta(action DeltaAction, a *Activity, now time.Time) *Delta {
	return &Delta{
		Action:    action,
		TenantID:  a.TenantID,
		Activity:  a.View(),
		Timestamp: now.UTC(),
	}
}

// NewReadAllDelta announces that count of the tenant's activities were
// marked read in one operation.
func NewReadAllDelta(tenantID string, count int, now time.Time) *Delta {
	return &Delta{
		Action:    ActionUpdated,
		TenantID:  tenantID,
		ReadAll:   true,
		Count:     count,
		Timestamp: now.UTC(),
	}
}
