package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/spine/internal/model"
)

// activityColumns is the column list used for SELECT statements on the activities table.
const activityColumns = `id, tenant_id, type, source, status, priority,
	source_system, source_object_id, source_object_type, title, description,
	metadata, entity_id, entity_type, user_id, user_name, occurred_at,
	created_at, idempotency_key, read, read_at, tags, correlation_id`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryInsertActivity reports false when another row already holds the key.
func queryInsertActivity(ctx context.Context, db executor, a *model.Activity) (bool, error) {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO activities (
			id, tenant_id, type, source, status, priority,
			source_system, source_object_id, source_object_type, title, description,
			metadata, entity_id, entity_type, user_id, user_name, occurred_at,
			created_at, idempotency_key, read, read_at, tags, correlation_id
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, FALSE, NULL, $20, $21
		)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
		a.ID,
		a.TenantID,
		string(a.Type),
		string(a.Source),
		string(a.Status),
		string(a.Priority),
		a.SourceSystem,
		a.SourceObjectID,
		nullString(a.SourceObjectType),
		a.Title,
		nullString(a.Description),
		jsonbBytes(a.Metadata),
		nullString(a.EntityID),
		nullString(a.EntityType),
		nullString(a.UserID),
		nullString(a.UserName),
		a.Timestamp,
		a.CreatedAt,
		a.IdempotencyKey,
		pq.Array(tags),
		nullString(a.CorrelationID),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func queryGetByKey(ctx context.Context, db executor, key string) (*model.Activity, error) {
	row := db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE idempotency_key = $1`, key)
	return scanActivity(row)
}

func queryGetActivity(ctx context.Context, db executor, tenantID, id string) (*model.Activity, error) {
	row := db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanActivity(row)
}

// queryMarkRead returns sql.ErrNoRows when the activity is missing or
// already read; the caller tells the two apart.
func queryMarkRead(ctx context.Context, db executor, tenantID, id string, now time.Time) (*model.Activity, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE activities SET read = TRUE, read_at = $3
		WHERE tenant_id = $1 AND id = $2 AND NOT read
		RETURNING `+activityColumns, tenantID, id, now)
	return scanActivity(row)
}

// queryMarkAllRead is a single statement, so every row unread in its
// snapshot is marked atomically.
func queryMarkAllRead(ctx context.Context, db executor, tenantID string, now time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `UPDATE activities SET read = TRUE, read_at = $2 WHERE tenant_id = $1 AND NOT read`, tenantID, now)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(n), nil
}

// whereBuilder accumulates tenant-scoped predicates and their positional args.
type whereBuilder struct {
	clauses []string
	args    []any
}

func newWhere(tenantID string) *whereBuilder {
	return &whereBuilder{clauses: []string{"tenant_id = $1"}, args: []any{tenantID}}
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) in(col string, vals []string) {
	if len(vals) == 0 {
		return
	}
	w.add(col + " = ANY(" + w.arg(pq.Array(vals)) + ")")
}

func (w *whereBuilder) window(start, end *time.Time) {
	if start != nil {
		w.add("occurred_at >= " + w.arg(*start))
	}
	if end != nil {
		w.add("occurred_at <= " + w.arg(*end))
	}
}

func (w *whereBuilder) sql() string {
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func buildListWhere(tenantID string, f *model.ActivityFilter) *whereBuilder {
	w := newWhere(tenantID)
	w.in("type", enumStrings(f.Types))
	w.in("source", enumStrings(f.Sources))
	w.in("status", enumStrings(f.Statuses))
	w.in("priority", enumStrings(f.Priorities))
	if f.EntityID != "" {
		w.add("entity_id = " + w.arg(f.EntityID))
	}
	if f.EntityType != "" {
		w.add("entity_type = " + w.arg(f.EntityType))
	}
	if f.UserID != "" {
		w.add("user_id = " + w.arg(f.UserID))
	}
	if f.CorrelationID != "" {
		w.add("correlation_id = " + w.arg(f.CorrelationID))
	}
	if f.Read != nil {
		w.add("read = " + w.arg(*f.Read))
	}
	if len(f.Tags) > 0 {
		// Containment: every requested tag must be present.
		w.add("tags @> " + w.arg(pq.Array(f.Tags)))
	}
	w.window(f.Start, f.End)
	if f.Search != "" {
		p := w.arg(escapeLike(f.Search))
		w.add(fmt.Sprintf(`(title ILIKE '%%' || %s || '%%' ESCAPE '\' OR description ILIKE '%%' || %s || '%%' ESCAPE '\')`, p, p))
	}
	return w
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func queryListActivities(ctx context.Context, db executor, tenantID string, f model.ActivityFilter) ([]*model.Activity, int, error) {
	w := buildListWhere(tenantID, &f)
	whereSQL := w.sql()

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + activityColumns +
		" FROM activities" + whereSQL +
		" ORDER BY " + sortClause(f.SortBy, f.SortOrder) +
		" LIMIT " + w.arg(f.PageSize) + " OFFSET " + w.arg(f.Offset())

	rows, err := db.QueryContext(ctx, dataQuery, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var items []*model.Activity
	var total int
	for rows.Next() {
		a, t, err := scanActivityWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activities: %w", err)
		}
		total = t
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan activities: %w", err)
	}

	// A page past the end has no rows to carry the window count.
	if len(items) == 0 && f.Offset() > 0 {
		countArgs := w.args[:len(w.args)-2]
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities"+whereSQL, countArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count activities: %w", err)
		}
	}
	return items, total, nil
}

// queryStats groups once over every dimension so the per-dimension sums all
// come from the same snapshot.
func queryStats(ctx context.Context, db executor, tenantID string, start, end *time.Time) (*model.Stats, error) {
	w := newWhere(tenantID)
	w.window(start, end)
	rows, err := db.QueryContext(ctx,
		"SELECT type, source, priority, read, COUNT(*) FROM activities"+w.sql()+
			" GROUP BY type, source, priority, read", w.args...)
	if err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	defer rows.Close()

	st := model.NewStats(start, end)
	for rows.Next() {
		var (
			typ, source, priority string
			read                  bool
			n                     int
		)
		if err := rows.Scan(&typ, &source, &priority, &read, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += n
		if !read {
			st.Unread += n
		}
		st.ByType[typ] += n
		st.BySource[source] += n
		st.ByPriority[priority] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return st, nil
}

// sortColumns maps API sort fields onto SQL expressions. Priority sorts by
// rank, not alphabetically.
var sortColumns = map[string]string{
	"timestamp":  "occurred_at",
	"created_at": "created_at",
	"priority":   "CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'critical' THEN 3 END",
	"status":     "status",
	"type":       "type",
	"source":     "source",
	"title":      "title",
}

// sortClause builds an ORDER BY from allowlisted fields only, with id as
// the tiebreaker so pagination is stable.
func sortClause(field string, order model.SortOrder) string {
	col, ok := sortColumns[field]
	if !ok {
		col = sortColumns["timestamp"]
	}
	dir := "DESC"
	if order == model.SortAsc {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}

func enumStrings[T ~string](vals []T) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
