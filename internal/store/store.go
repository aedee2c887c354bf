package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

// ErrNotFound is returned when an activity does not exist for the tenant.
// A missing id and an id owned by another tenant are indistinguishable.
var ErrNotFound = errors.New("activity not found")

// ErrKeyConflict is returned by CreateEvent when the idempotency key is
// already held by another tenant's activity. The existing activity is never
// returned across tenants.
var ErrKeyConflict = errors.New("idempotency key belongs to another tenant")

// Store defines the persistence interface for activities. Every read and
// mutation is scoped by tenant.
type Store interface {
	// CreateEvent stores the draft unless an activity with the same
	// idempotency key exists, in which case that activity is returned
	// unchanged. created reports whether a new row was inserted.
	CreateEvent(ctx context.Context, d *model.Draft) (a *model.Activity, created bool, err error)

	GetEvent(ctx context.Context, tenantID, id string) (*model.Activity, error)

	// ListEvents returns one page of matches and the total match count.
	ListEvents(ctx context.Context, tenantID string, filter model.ActivityFilter) ([]*model.Activity, int, error)

	// MarkAsRead is idempotent. changed is false when the activity was
	// already read, in which case read_at keeps its original value.
	MarkAsRead(ctx context.Context, tenantID, id string) (a *model.Activity, changed bool, err error)

	// MarkAllAsRead marks at least every activity unread when the call
	// starts and returns how many rows changed.
	MarkAllAsRead(ctx context.Context, tenantID string) (int, error)

	// GetStats aggregates over [start, end]; either bound may be nil.
	GetStats(ctx context.Context, tenantID string, start, end *time.Time) (*model.Stats, error)

	Ping(ctx context.Context) error
	Close() error
}
