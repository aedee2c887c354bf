// Package memory implements store.Store in process memory. It is meant for
// development and tests and follows the PostgreSQL store's semantics.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/spine/internal/idgen"
	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/store"
)

// MemoryStore keeps activities in maps guarded by a single RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*model.Activity
	byKey map[string]*model.Activity
	now   func() time.Time
}

var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*model.Activity),
		byKey: make(map[string]*model.Activity),
		now:   time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreateEvent(_ context.Context, d *model.Draft) (*model.Activity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := d.Prepare(s.now(), idgen.GenerateObjectID); err != nil {
		return nil, false, err
	}
	key := d.IdempotencyKey()
	if existing, ok := s.byKey[key]; ok {
		if existing.TenantID != d.TenantID {
			return nil, false, store.ErrKeyConflict
		}
		return clone(existing), false, nil
	}

	id, err := idgen.Generate()
	if err != nil {
		return nil, false, err
	}
	a, err := model.NewActivity(d, id, s.now())
	if err != nil {
		return nil, false, err
	}
	s.byID[a.ID] = a
	s.byKey[key] = a
	return clone(a), true, nil
}

func (s *MemoryStore) GetEvent(_ context.Context, tenantID, id string) (*model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok || a.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, tenantID string, filter model.ActivityFilter) ([]*model.Activity, int, error) {
	filter.Normalize()

	s.mu.RLock()
	var matched []*model.Activity
	for _, a := range s.byID {
		if a.TenantID == tenantID && matches(a, &filter) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, less(matched, filter.SortBy, filter.SortOrder))

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	out := make([]*model.Activity, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, clone(a))
	}
	return out, total, nil
}

func (s *MemoryStore) MarkAsRead(_ context.Context, tenantID, id string) (*model.Activity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.TenantID != tenantID {
		return nil, false, store.ErrNotFound
	}
	if a.Read {
		return clone(a), false, nil
	}
	now := s.now().UTC().Truncate(model.StoredPrecision)
	a.Read = true
	a.ReadAt = &now
	return clone(a), true, nil
}

func (s *MemoryStore) MarkAllAsRead(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC().Truncate(model.StoredPrecision)
	n := 0
	for _, a := range s.byID {
		if a.TenantID != tenantID || a.Read {
			continue
		}
		t := now
		a.Read = true
		a.ReadAt = &t
		n++
	}
	return n, nil
}

func (s *MemoryStore) GetStats(_ context.Context, tenantID string, start, end *time.Time) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.NewStats(start, end)
	for _, a := range s.byID {
		if a.TenantID != tenantID || !inWindow(a.Timestamp, start, end) {
			continue
		}
		st.Total++
		if !a.Read {
			st.Unread++
		}
		st.ByType[string(a.Type)]++
		st.BySource[string(a.Source)]++
		st.ByPriority[string(a.Priority)]++
	}
	return st, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored activities across all tenants.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func matches(a *model.Activity, f *model.ActivityFilter) bool {
	if len(f.Types) > 0 && !contains(f.Types, a.Type) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, a.Source) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, a.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, a.Priority) {
		return false
	}
	if f.EntityID != "" && a.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && a.EntityType != f.EntityType {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.CorrelationID != "" && a.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Read != nil && a.Read != *f.Read {
		return false
	}
	for _, tag := range f.Tags {
		if !a.HasTag(tag) {
			return false
		}
	}
	if !inWindow(a.Timestamp, f.Start, f.End) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Title), q) && !strings.Contains(strings.ToLower(a.Description), q) {
			return false
		}
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func inWindow(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

// less orders by the requested field with id as the tiebreaker, matching
// the ORDER BY the PostgreSQL store issues.
func less(list []*model.Activity, field string, order model.SortOrder) func(i, j int) bool {
	desc := order == model.SortDesc
	return func(i, j int) bool {
		a, b := list[i], list[j]
		c := compare(a, b, field)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	}
}

func compare(a, b *model.Activity, field string) int {
	switch field {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "priority":
		return a.Priority.Rank() - b.Priority.Rank()
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "type":
		return strings.Compare(string(a.Type), string(b.Type))
	case "source":
		return strings.Compare(string(a.Source), string(b.Source))
	case "title":
		return strings.Compare(a.Title, b.Title)
	default:
		return a.Timestamp.Compare(b.Timestamp)
	}
}

func clone(a *model.Activity) *model.Activity {
	c := *a
	if a.ReadAt != nil {
		t := *a.ReadAt
		c.ReadAt = &t
	}
	if a.Tags != nil {
		c.Tags = append([]string(nil), a.Tags...)
	}
	if a.Metadata != nil {
		c.Metadata = append([]byte(nil), a.Metadata...)
	}
	return &c
}
