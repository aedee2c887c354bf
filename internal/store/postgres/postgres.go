// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/spine/internal/idgen"
	"github.com/alfredjeanlab/spine/internal/metrics"
	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open, already-migrated database.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateEvent looks the key up first so retries avoid a write, then inserts
// with ON CONFLICT DO NOTHING. When a concurrent insert wins the race the
// winner's row is read back and returned.
func (s *PostgresStore) CreateEvent(ctx context.Context, d *model.Draft) (*model.Activity, bool, error) {
	defer metrics.ObserveStore("create", time.Now())

	if err := d.Prepare(s.now(), idgen.GenerateObjectID); err != nil {
		return nil, false, err
	}
	key := d.IdempotencyKey()

	existing, err := queryGetByKey(ctx, s.db, key)
	switch {
	case err == nil:
		return sameTenant(existing, d.TenantID)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	id, err := idgen.Generate()
	if err != nil {
		return nil, false, err
	}
	a, err := model.NewActivity(d, id, s.now())
	if err != nil {
		return nil, false, err
	}
	inserted, err := queryInsertActivity(ctx, s.db, a)
	if err != nil {
		return nil, false, fmt.Errorf("insert activity: %w", err)
	}
	if inserted {
		return a, true, nil
	}

	winner, err := queryGetByKey(ctx, s.db, key)
	if err != nil {
		return nil, false, fmt.Errorf("read conflicting activity: %w", err)
	}
	return sameTenant(winner, d.TenantID)
}

func sameTenant(a *model.Activity, tenantID string) (*model.Activity, bool, error) {
	if a.TenantID != tenantID {
		return nil, false, store.ErrKeyConflict
	}
	return a, false, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, tenantID, id string) (*model.Activity, error) {
	defer metrics.ObserveStore("get", time.Now())
	a, err := queryGetActivity(ctx, s.db, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) ListEvents(ctx context.Context, tenantID string, filter model.ActivityFilter) ([]*model.Activity, int, error) {
	defer metrics.ObserveStore("list", time.Now())
	filter.Normalize()
	return queryListActivities(ctx, s.db, tenantID, filter)
}

func (s *PostgresStore) MarkAsRead(ctx context.Context, tenantID, id string) (*model.Activity, bool, error) {
	defer metrics.ObserveStore("mark_read", time.Now())
	a, err := queryMarkRead(ctx, s.db, tenantID, id, s.now().UTC())
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("mark read: %w", err)
	}
	// Either missing or already read.
	a, err = queryGetActivity(ctx, s.db, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, store.ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}

func (s *PostgresStore) MarkAllAsRead(ctx context.Context, tenantID string) (int, error) {
	defer metrics.ObserveStore("mark_all_read", time.Now())
	return queryMarkAllRead(ctx, s.db, tenantID, s.now().UTC())
}

func (s *PostgresStore) GetStats(ctx context.Context, tenantID string, start, end *time.Time) (*model.Stats, error) {
	defer metrics.ObserveStore("stats", time.Now())
	return queryStats(ctx, s.db, tenantID, start, end)
}
