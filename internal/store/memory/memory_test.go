package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/store"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func draft(tenant, objectID string, offset time.Duration) *model.Draft {
	return &model.Draft{
		TenantID:       tenant,
		Type:           model.TypeEmailOpened,
		Source:         model.SourceHubSpot,
		SourceSystem:   "hubspot",
		SourceObjectID: objectID,
		Title:          "Email opened " + objectID,
		Timestamp:      base.Add(offset),
	}
}

func mustCreate(t *testing.T, s *MemoryStore, d *model.Draft) *model.Activity {
	t.Helper()
	a, created, err := s.CreateEvent(context.Background(), d)
	require.NoError(t, err)
	require.True(t, created, "expected a new row for %s", d.SourceObjectID)
	return a
}

func TestCreateEvent_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, created, err := s.CreateEvent(ctx, draft("t1", "obj-1", 0))
	require.NoError(t, err)
	assert.True(t, created)

	retry := draft("t1", "obj-1", 0)
	retry.Title = "A different title on retry"
	second, created, err := s.CreateEvent(ctx, retry)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Title, second.Title, "retry must return the first event unchanged")
	assert.Equal(t, 1, s.Len())
}

func TestCreateEvent_DistinctObjects(t *testing.T) {
	s := New()
	a := mustCreate(t, s, draft("t1", "obj-1", 0))
	b := mustCreate(t, s, draft("t1", "obj-2", 0))
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, s.Len())
}

func TestCreateEvent_ConcurrentRace(t *testing.T) {
	s := New()
	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := s.CreateEvent(context.Background(), draft("t1", "obj-race", 0))
			if err == nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, s.Len())
}

func TestCreateEvent_KeyHeldByOtherTenant(t *testing.T) {
	s := New()
	mustCreate(t, s, draft("t1", "obj-1", 0))
	a, _, err := s.CreateEvent(context.Background(), draft("t2", "obj-1", 0))
	assert.ErrorIs(t, err, store.ErrKeyConflict)
	assert.Nil(t, a)
}

func TestCreateEvent_SanitizesAndDefaults(t *testing.T) {
	s := New()
	d := &model.Draft{
		TenantID:    "t1",
		Type:        model.TypeGeneric,
		Source:      model.SourceWebhook,
		Title:       `<img src=x onerror=alert(1)>Hello <b>world</b>`,
		Description: "<script>steal()</script>",
	}
	a := mustCreate(t, s, d)
	assert.Equal(t, "Hello world", a.Title)
	assert.Empty(t, a.Description)
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Equal(t, model.PriorityMedium, a.Priority)
	assert.Equal(t, "webhook", a.SourceSystem)
	assert.NotEmpty(t, a.SourceObjectID)
	assert.Len(t, a.IdempotencyKey, 64)
	assert.False(t, a.Read)
}

func TestCreateEvent_Invalid(t *testing.T) {
	s := New()
	_, _, err := s.CreateEvent(context.Background(), &model.Draft{Type: model.TypeGeneric, Source: model.SourceWebhook, Title: "x"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, s.Len())
}

func TestGetEvent_TenantScoped(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := mustCreate(t, s, draft("t1", "obj-1", 0))

	got, err := s.GetEvent(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.GetEvent(ctx, "t2", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetEvent(ctx, "t1", "act-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetEvent_ReturnsCopy(t *testing.T) {
	s := New()
	a := mustCreate(t, s, draft("t1", "obj-1", 0))
	got, err := s.GetEvent(context.Background(), "t1", a.ID)
	require.NoError(t, err)
	got.Title = "mutated"
	again, err := s.GetEvent(context.Background(), "t1", a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Title)
}

func TestListEvents_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()

	d1 := draft("t1", "a", 0)
	d1.Tags = []string{"launch", "alert"}
	d1.Priority = model.PriorityHigh
	d1.EntityID = "lead-1"
	mustCreate(t, s, d1)

	d2 := draft("t1", "b", time.Hour)
	d2.Tags = []string{"launch"}
	d2.Type = model.TypeCampaignLaunched
	d2.Description = "Spring Promo kicked off"
	mustCreate(t, s, d2)

	d3 := draft("t1", "c", 2*time.Hour)
	d3.Source = model.SourceSalesforce
	d3.Status = model.StatusFailed
	d3.CorrelationID = "corr-1"
	mustCreate(t, s, d3)

	mustCreate(t, s, draft("t2", "a", 0))

	tru := true
	start := base.Add(30 * time.Minute)
	for _, tc := range []struct {
		name   string
		filter model.ActivityFilter
		want   int
	}{
		{"All", model.ActivityFilter{}, 3},
		{"Type", model.ActivityFilter{Types: []model.ActivityType{model.TypeCampaignLaunched}}, 1},
		{"Source", model.ActivityFilter{Sources: []model.Source{model.SourceSalesforce}}, 1},
		{"Status", model.ActivityFilter{Statuses: []model.Status{model.StatusFailed}}, 1},
		{"Priority", model.ActivityFilter{Priorities: []model.Priority{model.PriorityHigh, model.PriorityCritical}}, 1},
		{"Entity", model.ActivityFilter{EntityID: "lead-1"}, 1},
		{"TagsAnd", model.ActivityFilter{Tags: []string{"launch", "alert"}}, 1},
		{"SingleTag", model.ActivityFilter{Tags: []string{"launch"}}, 2},
		{"Read", model.ActivityFilter{Read: &tru}, 0},
		{"Window", model.ActivityFilter{Start: &start}, 2},
		{"SearchCaseInsensitive", model.ActivityFilter{Search: "spring promo"}, 1},
		{"Correlation", model.ActivityFilter{CorrelationID: "corr-1"}, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			items, total, err := s.ListEvents(ctx, "t1", tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, total)
			assert.Len(t, items, tc.want)
			for _, a := range items {
				assert.Equal(t, "t1", a.TenantID)
			}
		})
	}
}

func TestListEvents_SortAndPaginate(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		mustCreate(t, s, draft("t1", fmt.Sprintf("obj-%02d", i), time.Duration(i)*time.Minute))
	}

	items, total, err := s.ListEvents(ctx, "t1", model.ActivityFilter{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, items, 10)
	assert.Equal(t, "obj-24", items[0].SourceObjectID, "default sort is timestamp desc")

	items, total, err = s.ListEvents(ctx, "t1", model.ActivityFilter{Page: 3, PageSize: 10, SortBy: "timestamp", SortOrder: model.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, items, 5)
	assert.Equal(t, "obj-20", items[0].SourceObjectID)

	items, total, err = s.ListEvents(ctx, "t1", model.ActivityFilter{Page: 9})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Empty(t, items)
}

func TestListEvents_SortByPriority(t *testing.T) {
	s := New()
	for i, p := range []model.Priority{model.PriorityLow, model.PriorityCritical, model.PriorityMedium} {
		d := draft("t1", fmt.Sprintf("p%d", i), 0)
		d.Priority = p
		mustCreate(t, s, d)
	}
	items, _, err := s.ListEvents(context.Background(), "t1", model.ActivityFilter{SortBy: "priority"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.PriorityCritical, items[0].Priority)
	assert.Equal(t, model.PriorityLow, items[2].Priority)
}

func TestMarkAsRead(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return first })
	a := mustCreate(t, s, draft("t1", "obj-1", 0))

	got, changed, err := s.MarkAsRead(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, got.Read)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(first))

	s.SetClock(func() time.Time { return first.Add(time.Hour) })
	again, changed, err := s.MarkAsRead(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, again.ReadAt.Equal(first), "read_at must keep its first value")

	_, _, err = s.MarkAsRead(ctx, "t2", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkAllAsRead(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, draft("t1", fmt.Sprintf("obj-%d", i), 0))
	}
	other := mustCreate(t, s, draft("t2", "obj-x", 0))
	a, err := s.GetEvent(ctx, "t1", firstID(t, s, "t1"))
	require.NoError(t, err)
	_, _, err = s.MarkAsRead(ctx, "t1", a.ID)
	require.NoError(t, err)

	n, err := s.MarkAllAsRead(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	unread := false
	items, total, err := s.ListEvents(ctx, "t1", model.ActivityFilter{Read: &unread})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)

	o, err := s.GetEvent(ctx, "t2", other.ID)
	require.NoError(t, err)
	assert.False(t, o.Read, "other tenants are untouched")

	n, err = s.MarkAllAsRead(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := draft("t1", "a", 0)
	d.Priority = model.PriorityHigh
	mustCreate(t, s, d)
	d = draft("t1", "b", time.Hour)
	d.Type = model.TypeLeadCreated
	d.Source = model.SourceSalesforce
	b := mustCreate(t, s, d)
	mustCreate(t, s, draft("t1", "c", 2*time.Hour))
	mustCreate(t, s, draft("t2", "z", 0))
	_, _, err := s.MarkAsRead(ctx, "t1", b.ID)
	require.NoError(t, err)

	st, err := s.GetStats(ctx, "t1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Unread)
	assert.Equal(t, map[string]int{"email-opened": 2, "lead-created": 1}, st.ByType)
	assert.Equal(t, map[string]int{"hubspot": 2, "salesforce": 1}, st.BySource)
	assert.Equal(t, map[string]int{"high": 1, "medium": 2}, st.ByPriority)

	start, end := base.Add(30*time.Minute), base.Add(90*time.Minute)
	st, err = s.GetStats(ctx, "t1", &start, &end)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 0, st.Unread)
	assert.Equal(t, &start, st.Start)

	st, err = s.GetStats(ctx, "nobody", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.NotNil(t, st.ByType)
}

func firstID(t *testing.T, s *MemoryStore, tenant string) string {
	t.Helper()
	items, _, err := s.ListEvents(context.Background(), tenant, model.ActivityFilter{PageSize: 1})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	return items[0].ID
}
