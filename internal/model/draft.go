package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the ISO 8601 form used when a timestamp participates in
// the idempotency key. Timestamps are always rendered in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// StoredPrecision is the resolution activity times are kept at, matching
// Postgres timestamptz.
const StoredPrecision = time.Microsecond

// Draft is a canonical activity as produced by a normalizer or posted by a
// collaborator, before the store assigns an id and ingestion time.
type Draft struct {
	TenantID         string         `json:"tenant_id"`
	Type             ActivityType   `json:"type"`
	Source           Source         `json:"source"`
	Status           Status         `json:"status,omitempty"`
	Priority         Priority       `json:"priority,omitempty"`
	SourceSystem     string         `json:"source_system,omitempty"`
	SourceObjectID   string         `json:"source_object_id,omitempty"`
	SourceObjectType string         `json:"source_object_type,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	EntityID         string         `json:"entity_id,omitempty"`
	EntityType       string         `json:"entity_type,omitempty"`
	UserID           string         `json:"user_id,omitempty"`
	UserName         string         `json:"user_name,omitempty"`
	Timestamp        time.Time      `json:"timestamp,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CorrelationID    string         `json:"correlation_id,omitempty"`

	// TimestampInferred is set when the payload carried no usable timestamp
	// and Timestamp holds the ingestion time instead.
	TimestampInferred bool `json:"-"`
}

// ApplyDefaults fills optional fields. newID supplies a source object id when
// the draft has none; now supplies the fallback timestamp.
func (d *Draft) ApplyDefaults(now time.Time, newID func() (string, error)) error {
	if d.Status == "" {
		d.Status = StatusCompleted
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if d.SourceSystem == "" {
		d.SourceSystem = string(d.Source)
	}
	if d.SourceObjectID == "" && newID != nil {
		id, err := newID()
		if err != nil {
			return err
		}
		d.SourceObjectID = id
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = now
		d.TimestampInferred = true
	}
	d.Timestamp = d.Timestamp.UTC()
	d.Tags = dedupeTags(d.Tags)
	return nil
}

// Prepare applies defaults and validates the draft. It is safe to call more
// than once.
func (d *Draft) Prepare(now time.Time, newID func() (string, error)) error {
	if err := d.ApplyDefaults(now, newID); err != nil {
		return fmt.Errorf("assigning source object id: %w", err)
	}
	return ValidateDraft(d)
}

// NewActivity builds the stored form of a prepared draft. Free text is
// sanitized here, so every store persists the same representation.
func NewActivity(d *Draft, id string, createdAt time.Time) (*Activity, error) {
	var meta json.RawMessage
	if len(d.Metadata) > 0 {
		b, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		meta = b
	}
	var tags []string
	if len(d.Tags) > 0 {
		tags = append(tags, d.Tags...)
	}
	return &Activity{
		ID:               id,
		TenantID:         d.TenantID,
		Type:             d.Type,
		Source:           d.Source,
		Status:           d.Status,
		Priority:         d.Priority,
		SourceSystem:     d.SourceSystem,
		SourceObjectID:   d.SourceObjectID,
		SourceObjectType: d.SourceObjectType,
		Title:            SanitizeText(d.Title),
		Description:      SanitizeText(d.Description),
		Metadata:         meta,
		EntityID:         d.EntityID,
		EntityType:       d.EntityType,
		UserID:           d.UserID,
		UserName:         d.UserName,
		Timestamp:        d.Timestamp.UTC().Truncate(StoredPrecision),
		CreatedAt:        createdAt.UTC().Truncate(StoredPrecision),
		IdempotencyKey:   d.IdempotencyKey(),
		Tags:             tags,
		CorrelationID:    d.CorrelationID,
	}, nil
}

// KeyTimestamp is the timestamp component of the idempotency key. It is empty
// when the timestamp was inferred, so retried deliveries of the same
// timestamp-less payload still collapse to one activity.
func (d *Draft) KeyTimestamp() string {
	if d.TimestampInferred {
		return ""
	}
	return FormatTimestamp(d.Timestamp)
}

// IdempotencyKey returns the deduplication key for the draft.
func (d *Draft) IdempotencyKey() string {
	return IdempotencyKey(d.SourceSystem, d.SourceObjectID, d.KeyTimestamp())
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IdempotencyKey computes hex(SHA256("{sourceSystem}:{sourceObjectID}:{timestamp}")).
func IdempotencyKey(sourceSystem, sourceObjectID, timestamp string) string {
	sum := sha256.Sum256([]byte(sourceSystem + ":" + sourceObjectID + ":" + timestamp))
	return hex.EncodeToString(sum[:])
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
