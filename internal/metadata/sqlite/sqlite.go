// Package sqlite provides single-file route and cache stores for deployments
// without PostgreSQL.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fruitsalade/drivecms/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS routes (
	slug            TEXT PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	folder_ids      TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	subtitle        TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	is_active       BOOLEAN NOT NULL DEFAULT 1,
	last_updated    INTEGER,
	custom_settings TEXT,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hierarchy_cache (
	cache_key     TEXT PRIMARY KEY,
	tree          TEXT NOT NULL,
	built_at      INTEGER NOT NULL,
	total_items   INTEGER NOT NULL,
	max_depth     INTEGER NOT NULL,
	build_time_ms INTEGER NOT NULL,
	folder_ids    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hierarchy_cache_built_at ON hierarchy_cache(built_at);
`

// Store owns the database shared by the route and cache stores.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between the route and cache views.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Routes returns the route store view.
func (s *Store) Routes() *RouteStore {
	return &RouteStore{db: s.db}
}

// Cache returns the cache store view.
func (s *Store) Cache() *CacheStore {
	return &CacheStore{db: s.db}
}

// track times a store operation; defer track(op)(&err).
func track(op string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.RecordStoreOperation("sqlite", op, time.Since(start), *err == nil)
	}
}

// Times are stored as UTC unix nanoseconds so range comparisons are numeric.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
