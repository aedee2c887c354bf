// Package client provides a transport-agnostic interface for the activity
// spine and HTTP/JSON and gRPC implementations of it.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// ActivityClient is the interface that all spine CLI commands use to
// communicate with the server. It is implemented by HTTPClient (default)
// and GRPCClient.
type ActivityClient interface {
	// Writes. created is false when the server returned an existing activity.
	CreateActivity(ctx context.Context, d *model.Draft) (a *model.Activity, created bool, err error)
	Ingest(ctx context.Context, source, tenantID string, payload json.RawMessage) (a *model.Activity, created bool, err error)

	// Reads
	GetActivity(ctx context.Context, tenantID, id string) (*model.Activity, error)
	ListActivities(ctx context.Context, tenantID string, filter model.ActivityFilter) (*model.Page, error)
	GetStats(ctx context.Context, tenantID string, start, end *time.Time) (*model.Stats, error)

	// Read state
	MarkAsRead(ctx context.Context, tenantID, id string) (*model.Activity, error)
	MarkAllAsRead(ctx context.Context, tenantID string) (int, error)

	// Watch calls fn for every delta pushed to tenantID, starting with the
	// connected delta, until ctx is done or fn returns an error.
	Watch(ctx context.Context, tenantID string, fn func(*model.Delta) error) error

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// filterQuery encodes filter as list query parameters.
func filterQuery(tenantID string, f model.ActivityFilter) url.Values {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	setList(q, "type", f.Types)
	setList(q, "source", f.Sources)
	setList(q, "status", f.Statuses)
	setList(q, "priority", f.Priorities)
	setList(q, "tags", f.Tags)
	setString(q, "entity_id", f.EntityID)
	setString(q, "entity_type", f.EntityType)
	setString(q, "user_id", f.UserID)
	setString(q, "search", f.Search)
	setString(q, "correlation_id", f.CorrelationID)
	setString(q, "sort_by", f.SortBy)
	setString(q, "sort_order", string(f.SortOrder))
	if f.Read != nil {
		q.Set("read", strconv.FormatBool(*f.Read))
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	setTime(q, "start_date", f.Start)
	setTime(q, "end_date", f.End)
	return q
}

func setList[T ~string](q url.Values, key string, vals []T) {
	if len(vals) == 0 {
		return
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	q.Set(key, strings.Join(parts, ","))
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func setTime(q url.Values, key string, t *time.Time) {
	if t != nil {
		q.Set(key, t.UTC().Format(time.RFC3339Nano))
	}
}
