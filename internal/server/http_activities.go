package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// maxBodyBytes caps request bodies on the write routes.
const maxBodyBytes = 1 << 20

// handleCreateActivity handles POST /v1/activities.
func (s *ActivityServer) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if err := validateDraftJSON(body); err != nil {
		writeServiceError(w, "create activity", err)
		return
	}
	var d model.Draft
	if err := json.Unmarshal(body, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, created, err := s.submit(r.Context(), &d)
	if err != nil {
		writeServiceError(w, "create activity", err)
		return
	}
	writeJSON(w, createdStatus(created), a.View())
}

// handleIngest handles POST /v1/ingest/{source}.
func (s *ActivityServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	raw, err := decodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if tenant := r.URL.Query().Get("tenant_id"); tenant != "" && !hasTenant(raw) {
		raw["tenant_id"] = tenant
	}

	a, created, err := s.ingest(r.Context(), source, raw)
	if err != nil {
		writeServiceError(w, "ingest activity", err)
		return
	}
	writeJSON(w, createdStatus(created), a.View())
}

// handleGetActivity handles GET /v1/activities/{id}.
func (s *ActivityServer) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	a, err := s.store.GetEvent(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "get activity", err)
		return
	}
	writeJSON(w, http.StatusOK, a.View())
}

// handleListActivities handles GET /v1/activities.
func (s *ActivityServer) handleListActivities(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeServiceError(w, "list activities", err)
		return
	}
	if err := model.ValidateFilter(&filter); err != nil {
		writeServiceError(w, "list activities", err)
		return
	}
	filter.Normalize()

	items, total, err := s.store.ListEvents(r.Context(), tenantID, filter)
	if err != nil {
		writeServiceError(w, "list activities", err)
		return
	}
	views := make([]*model.Activity, len(items))
	for i, a := range items {
		views[i] = a.View()
	}
	writeJSON(w, http.StatusOK, model.NewPage(views, total, filter.Page, filter.PageSize))
}

// handleMarkRead handles PATCH /v1/activities/{id}/read.
func (s *ActivityServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	a, err := s.markRead(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "mark activity read", err)
		return
	}
	writeJSON(w, http.StatusOK, a.View())
}

// handleMarkAllRead handles PATCH /v1/activities/read-all.
func (s *ActivityServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	n, err := s.markAllRead(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, "mark all read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleGetStats handles GET /v1/activities/stats.
func (s *ActivityServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := parseDate(q, "start_date")
	if err != nil {
		writeServiceError(w, "get stats", err)
		return
	}
	end, err := parseDate(q, "end_date")
	if err != nil {
		writeServiceError(w, "get stats", err)
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		writeError(w, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}
	st, err := s.store.GetStats(r.Context(), tenantID, start, end)
	if err != nil {
		writeServiceError(w, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// requireTenant reads tenant_id from the query, writing a 400 when absent.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return "", false
	}
	return tenantID, true
}

func hasTenant(raw map[string]any) bool {
	for _, k := range []string{"tenantId", "tenant_id", "orgTenantId"} {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// decodePayload reads a JSON object keeping numbers exact, so large source
// ids survive untouched.
func decodePayload(r io.Reader) (map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, inputError("payload must be a JSON object")
	}
	return raw, nil
}

// parseFilter turns list query parameters into a filter. Enum values are
// checked afterwards by model.ValidateFilter.
func parseFilter(q url.Values) (model.ActivityFilter, error) {
	f := model.ActivityFilter{
		Types:         csv[model.ActivityType](q.Get("type")),
		Sources:       csv[model.Source](q.Get("source")),
		Statuses:      csv[model.Status](q.Get("status")),
		Priorities:    csv[model.Priority](q.Get("priority")),
		Tags:          csv[string](q.Get("tags")),
		EntityID:      q.Get("entity_id"),
		EntityType:    q.Get("entity_type"),
		UserID:        q.Get("user_id"),
		Search:        strings.TrimSpace(q.Get("search")),
		CorrelationID: q.Get("correlation_id"),
		SortBy:        q.Get("sort_by"),
		SortOrder:     model.SortOrder(strings.ToLower(q.Get("sort_order"))),
	}
	if v := q.Get("read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, inputError("read must be true or false")
		}
		f.Read = &b
	}
	var err error
	if f.Page, err = parseInt(q, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseInt(q, "page_size"); err != nil {
		return f, err
	}
	if f.Start, err = parseDate(q, "start_date"); err != nil {
		return f, err
	}
	if f.End, err = parseDate(q, "end_date"); err != nil {
		return f, err
	}
	return f, nil
}

func csv[T ~string](v string) []T {
	if v == "" {
		return nil
	}
	var out []T
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, T(p))
		}
	}
	return out
}

func parseInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, inputError(key + " must be a positive integer")
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseDate(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, inputError(key + " must be an RFC 3339 timestamp or YYYY-MM-DD date")
}
