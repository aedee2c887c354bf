package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/store"
)

var fixedNow = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

// newMockStore creates a PostgresStore over sqlmock with automatic cleanup
// and expectation checking. The store's clock is pinned to fixedNow.
func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	s := NewWithDB(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

// activityRowColumns is the column list for scanActivity results.
var activityRowColumns = []string{
	"id", "tenant_id", "type", "source", "status", "priority",
	"source_system", "source_object_id", "source_object_type", "title", "description",
	"metadata", "entity_id", "entity_type", "user_id", "user_name", "occurred_at",
	"created_at", "idempotency_key", "read", "read_at", "tags", "correlation_id",
}

var ts = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rowValues(id, tenant string, read bool, readAt any) []driver.Value {
	return []driver.Value{
		id, tenant, "lead-created", "salesforce", "completed", "medium",
		"salesforce", "006xx", "Opportunity", "Opportunity created", nil,
		[]byte(`{"source_event_type":"OpportunityCreated"}`), "006xx", "opportunity", nil, nil, ts,
		fixedNow, "key", read, readAt, "{crm,won}", nil,
	}
}

func activityRows(id, tenant string) *sqlmock.Rows {
	return sqlmock.NewRows(activityRowColumns).AddRow(rowValues(id, tenant, false, nil)...)
}

func salesforceDraft(tenant string) *model.Draft {
	return &model.Draft{
		TenantID:       tenant,
		Type:           model.TypeLeadCreated,
		Source:         model.SourceSalesforce,
		SourceObjectID: "006xx",
		Title:          "Opportunity created",
		Timestamp:      ts,
	}
}

func TestSortClause(t *testing.T) {
	for _, tc := range []struct {
		field string
		order model.SortOrder
		want  string
	}{
		{"", model.SortDesc, "occurred_at DESC, id DESC"},
		{"timestamp", model.SortAsc, "occurred_at ASC, id ASC"},
		{"created_at", model.SortDesc, "created_at DESC, id DESC"},
		{"title", model.SortAsc, "title ASC, id ASC"},
		{"evil_column; DROP TABLE activities", model.SortAsc, "occurred_at ASC, id ASC"},
	} {
		if got := sortClause(tc.field, tc.order); got != tc.want {
			t.Errorf("sortClause(%q, %q) = %q, want %q", tc.field, tc.order, got, tc.want)
		}
	}
	if got := sortClause("priority", model.SortDesc); !strings.HasPrefix(got, "CASE priority") {
		t.Errorf("priority must sort by rank, got %q", got)
	}
	for field := range model.SortFields {
		if _, ok := sortColumns[field]; !ok {
			t.Errorf("sort field %q has no column mapping", field)
		}
	}
}

func TestBuildListWhere(t *testing.T) {
	read := false
	start := ts
	f := model.ActivityFilter{
		Types:  []model.ActivityType{model.TypeEmailOpened, model.TypeEmailClicked},
		Tags:   []string{"launch", "alert"},
		Read:   &read,
		Start:  &start,
		Search: "promo",
	}
	w := buildListWhere("t1", &f)
	got := w.sql()
	for _, want := range []string{
		"tenant_id = $1",
		"type = ANY($2)",
		"read = $3",
		"tags @> $4",
		"occurred_at >= $5",
		`title ILIKE '%' || $6 || '%' ESCAPE '\' OR description ILIKE '%' || $6 || '%' ESCAPE '\'`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("where clause missing %q:\n%s", want, got)
		}
	}
	if len(w.args) != 6 || w.args[0] != "t1" {
		t.Errorf("args = %v", w.args)
	}
}

func TestBuildListWhere_SearchIsLiteral(t *testing.T) {
	for search, want := range map[string]string{
		"50%":    `50\%`,
		"a_b":    `a\_b`,
		`c:\tmp`: `c:\\tmp`,
		"promo":  "promo",
	} {
		w := buildListWhere("t1", &model.ActivityFilter{Search: search})
		if got := w.args[len(w.args)-1]; got != want {
			t.Errorf("search %q bound as %q, want %q", search, got, want)
		}
	}
}

func TestScanHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	if jsonbBytes(json.RawMessage{}) != nil {
		t.Error("jsonbBytes({}) should be nil")
	}
	if string(jsonbBytes(json.RawMessage(`{"k":"v"}`))) != `{"k":"v"}` {
		t.Error("jsonbBytes should pass through content")
	}
}

func TestCreateEvent_New(t *testing.T) {
	s, mock := newMockStore(t)
	d := salesforceDraft("t1")
	key := model.IdempotencyKey("salesforce", "006xx", "2024-03-01T12:00:00.000Z")

	mock.ExpectQuery("SELECT .+ FROM activities WHERE idempotency_key = \\$1").WithArgs(key).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO activities .+ ON CONFLICT \\(idempotency_key\\) DO NOTHING RETURNING id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("act-new"))

	a, created, err := s.CreateEvent(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if a.IdempotencyKey != key || a.TenantID != "t1" || !a.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected activity: %+v", a)
	}
	if !strings.HasPrefix(a.ID, "act-") {
		t.Errorf("ID = %q, want act- prefix", a.ID)
	}
}

func TestCreateEvent_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE idempotency_key = \\$1").
		WillReturnRows(activityRows("act-first", "t1"))

	a, created, err := s.CreateEvent(context.Background(), salesforceDraft("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected created=false for a duplicate")
	}
	if a.ID != "act-first" {
		t.Fatalf("expected the existing activity, got %q", a.ID)
	}
	if len(a.Tags) != 2 || a.Tags[1] != "won" {
		t.Errorf("Tags = %v", a.Tags)
	}
}

func TestCreateEvent_LostRace(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE idempotency_key = \\$1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO activities").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .+ FROM activities WHERE idempotency_key = \\$1").
		WillReturnRows(activityRows("act-winner", "t1"))

	a, created, err := s.CreateEvent(context.Background(), salesforceDraft("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || a.ID != "act-winner" {
		t.Fatalf("expected the winner's row, got created=%v id=%q", created, a.ID)
	}
}

func TestCreateEvent_KeyHeldByOtherTenant(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE idempotency_key = \\$1").
		WillReturnRows(activityRows("act-other", "t2"))

	a, _, err := s.CreateEvent(context.Background(), salesforceDraft("t1"))
	if !errors.Is(err, store.ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}
	if a != nil {
		t.Fatal("another tenant's activity must not be returned")
	}
}

func TestCreateEvent_Invalid(t *testing.T) {
	s, _ := newMockStore(t)
	d := salesforceDraft("")
	_, _, err := s.CreateEvent(context.Background(), d)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetEvent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t1", "act-1").
		WillReturnRows(activityRows("act-1", "t1"))

	a, err := s.GetEvent(context.Background(), "t1", "act-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Title != "Opportunity created" || a.EntityType != "opportunity" || a.Description != "" {
		t.Fatalf("unexpected activity: %+v", a)
	}
	if string(a.Metadata) != `{"source_event_type":"OpportunityCreated"}` {
		t.Errorf("Metadata = %s", a.Metadata)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t2", "act-1").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetEvent(context.Background(), "t2", "act-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEvents(t *testing.T) {
	s, mock := newMockStore(t)
	cols := append([]string{"total_count"}, activityRowColumns...)
	rows := sqlmock.NewRows(cols).
		AddRow(append([]driver.Value{7}, rowValues("act-1", "t1", false, nil)...)...).
		AddRow(append([]driver.Value{7}, rowValues("act-2", "t1", true, fixedNow)...)...)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM activities WHERE tenant_id = \\$1 AND tags @> \\$2 ORDER BY occurred_at DESC, id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("t1", sqlmock.AnyArg(), 2, 0).
		WillReturnRows(rows)

	items, total, err := s.ListEvents(context.Background(), "t1", model.ActivityFilter{Tags: []string{"crm"}, PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	if !items[1].Read || items[1].ReadAt == nil {
		t.Errorf("second item should be read: %+v", items[1])
	}
}

func TestListEvents_PastLastPage(t *testing.T) {
	s, mock := newMockStore(t)
	cols := append([]string{"total_count"}, activityRowColumns...)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\)").
		WithArgs("t1", 20, 180).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM activities WHERE tenant_id = \\$1").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	items, total, err := s.ListEvents(context.Background(), "t1", model.ActivityFilter{Page: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 || len(items) != 0 {
		t.Fatalf("total=%d len=%d, want 7 and 0", total, len(items))
	}
}

func TestMarkAsRead(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows(activityRowColumns).AddRow(rowValues("act-1", "t1", true, fixedNow)...)
	mock.ExpectQuery("UPDATE activities SET read = TRUE, read_at = \\$3 WHERE tenant_id = \\$1 AND id = \\$2 AND NOT read RETURNING").
		WithArgs("t1", "act-1", fixedNow).
		WillReturnRows(rows)

	a, changed, err := s.MarkAsRead(context.Background(), "t1", "act-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || !a.Read || a.ReadAt == nil || !a.ReadAt.Equal(fixedNow) {
		t.Fatalf("changed=%v activity=%+v", changed, a)
	}
}

func TestMarkAsRead_AlreadyRead(t *testing.T) {
	s, mock := newMockStore(t)
	earlier := fixedNow.Add(-time.Hour)
	mock.ExpectQuery("UPDATE activities SET read = TRUE").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t1", "act-1").
		WillReturnRows(sqlmock.NewRows(activityRowColumns).AddRow(rowValues("act-1", "t1", true, earlier)...))

	a, changed, err := s.MarkAsRead(context.Background(), "t1", "act-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false")
	}
	if !a.ReadAt.Equal(earlier) {
		t.Errorf("read_at = %v, want original %v", a.ReadAt, earlier)
	}
}

func TestMarkAsRead_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE activities SET read = TRUE").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM activities WHERE tenant_id = \\$1 AND id = \\$2").WillReturnError(sql.ErrNoRows)

	if _, _, err := s.MarkAsRead(context.Background(), "t2", "act-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE activities SET read = TRUE, read_at = \\$2 WHERE tenant_id = \\$1 AND NOT read").
		WithArgs("t1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.MarkAllAsRead(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestGetStats(t *testing.T) {
	s, mock := newMockStore(t)
	start := ts
	rows := sqlmock.NewRows([]string{"type", "source", "priority", "read", "count"}).
		AddRow("lead-created", "salesforce", "medium", false, 2).
		AddRow("lead-created", "salesforce", "medium", true, 1).
		AddRow("email-opened", "hubspot", "high", false, 4)
	mock.ExpectQuery("SELECT type, source, priority, read, COUNT\\(\\*\\) FROM activities WHERE tenant_id = \\$1 AND occurred_at >= \\$2 GROUP BY").
		WithArgs("t1", start).
		WillReturnRows(rows)

	st, err := s.GetStats(context.Background(), "t1", &start, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Total != 7 || st.Unread != 6 {
		t.Fatalf("total=%d unread=%d", st.Total, st.Unread)
	}
	if st.ByType["lead-created"] != 3 || st.BySource["hubspot"] != 4 || st.ByPriority["medium"] != 3 {
		t.Fatalf("unexpected groupings: %+v", st)
	}
	if st.Start == nil || !st.Start.Equal(start) || st.End != nil {
		t.Errorf("window not echoed: %v %v", st.Start, st.End)
	}
}
