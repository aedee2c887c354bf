package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/spine/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// activityRow holds the nullable intermediates for one activities row.
type activityRow struct {
	a                model.Activity
	sourceObjectType sql.NullString
	description      sql.NullString
	metadata         []byte
	entityID         sql.NullString
	entityType       sql.NullString
	userID           sql.NullString
	userName         sql.NullString
	readAt           sql.NullTime
	tags             []string
	correlationID    sql.NullString
}

// dest returns scan targets in the order defined by activityColumns.
func (r *activityRow) dest() []any {
	return []any{
		&r.a.ID,
		&r.a.TenantID,
		&r.a.Type,
		&r.a.Source,
		&r.a.Status,
		&r.a.Priority,
		&r.a.SourceSystem,
		&r.a.SourceObjectID,
		&r.sourceObjectType,
		&r.a.Title,
		&r.description,
		&r.metadata,
		&r.entityID,
		&r.entityType,
		&r.userID,
		&r.userName,
		&r.a.Timestamp,
		&r.a.CreatedAt,
		&r.a.IdempotencyKey,
		&r.a.Read,
		&r.readAt,
		pq.Array(&r.tags),
		&r.correlationID,
	}
}

func (r *activityRow) activity() *model.Activity {
	a := r.a
	a.SourceObjectType = r.sourceObjectType.String
	a.Description = r.description.String
	a.EntityID = r.entityID.String
	a.EntityType = r.entityType.String
	a.UserID = r.userID.String
	a.UserName = r.userName.String
	a.CorrelationID = r.correlationID.String
	a.Timestamp = a.Timestamp.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	if r.readAt.Valid {
		t := r.readAt.Time.UTC()
		a.ReadAt = &t
	}
	if len(r.metadata) > 0 {
		a.Metadata = json.RawMessage(r.metadata)
	}
	if len(r.tags) > 0 {
		a.Tags = r.tags
	}
	return &a
}

// scanActivity scans a single row into a model.Activity.
func scanActivity(row scannable) (*model.Activity, error) {
	var r activityRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.activity(), nil
}

// scanActivityWithTotal scans a row that has a leading total_count column
// followed by the standard activity columns. Used with COUNT(*) OVER().
func scanActivityWithTotal(row scannable) (*model.Activity, int, error) {
	var total int
	var r activityRow
	if err := row.Scan(append([]any{&total}, r.dest()...)...); err != nil {
		return nil, 0, err
	}
	return r.activity(), total, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
