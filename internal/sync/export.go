package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// FormatVersion is written in every export header.
const FormatVersion = "1"

// Lister is the part of the activity store an export reads from.
type Lister interface {
	ListEvents(ctx context.Context, tenantID string, filter model.ActivityFilter) ([]*model.Activity, int, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	TenantID      string    `json:"tenant_id"`
	Timestamp     time.Time `json:"timestamp"`
	ActivityCount int       `json:"activity_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every activity of tenantID as JSONL to w, oldest first.
// The list is read page by page so large tenants never sit in memory at once.
func ExportJSONL(ctx context.Context, l Lister, tenantID string, w io.Writer) error {
	filter := model.ActivityFilter{
		SortBy:    "created_at",
		SortOrder: model.SortAsc,
		Page:      1,
		PageSize:  model.MaxPageSize,
	}
	first, total, err := l.ListEvents(ctx, tenantID, filter)
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       FormatVersion,
		Type:          "header",
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		ActivityCount: total,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	page := first
	for {
		for _, a := range page {
			if err := enc.Encode(record{Type: "activity", Data: a.View()}); err != nil {
				return fmt.Errorf("encode activity %s: %w", a.ID, err)
			}
		}
		if len(page) < filter.PageSize || filter.Page*filter.PageSize >= total {
			return nil
		}
		filter.Page++
		if page, _, err = l.ListEvents(ctx, tenantID, filter); err != nil {
			return fmt.Errorf("list activities page %d: %w", filter.Page, err)
		}
	}
}
