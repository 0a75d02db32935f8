// Package postgres provides PostgreSQL-backed route and cache stores with
// metrics.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
)

// Store owns the database connection shared by the route and cache stores.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an open connection.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate applies the *.up.sql files in migrationsDir in name order. Each
// file runs once, in its own transaction, and is recorded in
// schema_migrations.
func (s *Store) Migrate(migrationsDir string) error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		name := filepath.Base(f)
		var applied bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		logging.Info("applying migration", zap.String("file", name))
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
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
		metrics.RecordStoreOperation("postgres", op, time.Since(start), *err == nil)
	}
}

// escapeLike escapes LIKE wildcards so a prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
