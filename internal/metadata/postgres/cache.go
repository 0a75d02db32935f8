package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/pkg/models"
)

// CacheStore implements cache.Store on the hierarchy_cache table. Each
// statement touches whole rows, so a reader never sees a partial tree.
type CacheStore struct {
	db *sql.DB
}

// Get implements cache.Store.
func (s *CacheStore) Get(ctx context.Context, key string) (_ *models.CacheEntry, err error) {
	defer track("cache_get")(&err)

	var (
		e    models.CacheEntry
		tree []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT cache_key, tree, built_at, total_items, max_depth, build_time_ms, folder_ids
		FROM hierarchy_cache WHERE cache_key = $1`, key).
		Scan(&e.Key, &tree, &e.BuiltAt, &e.Meta.TotalItems, &e.Meta.MaxDepth,
			&e.Meta.BuildTimeMs, pq.Array(&e.Meta.FolderIDs))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cache %s: %w", key, err)
	}
	if err = json.Unmarshal(tree, &e.Tree); err != nil {
		return nil, fmt.Errorf("decode cached tree %s: %w", key, err)
	}
	return &e, nil
}

// Put implements cache.Store.
func (s *CacheStore) Put(ctx context.Context, e *models.CacheEntry) (err error) {
	defer track("cache_put")(&err)

	if e == nil || e.Tree == nil {
		return cache.WriteError("", errors.New("cache entry without tree"))
	}
	tree, err := json.Marshal(e.Tree)
	if err != nil {
		return cache.WriteError(e.Key, err)
	}
	folderIDs := e.Meta.FolderIDs
	if folderIDs == nil {
		folderIDs = []string{}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hierarchy_cache (cache_key, tree, built_at, total_items, max_depth, build_time_ms, folder_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cache_key) DO UPDATE SET
			tree = EXCLUDED.tree,
			built_at = EXCLUDED.built_at,
			total_items = EXCLUDED.total_items,
			max_depth = EXCLUDED.max_depth,
			build_time_ms = EXCLUDED.build_time_ms,
			folder_ids = EXCLUDED.folder_ids`,
		e.Key, string(tree), e.BuiltAt, e.Meta.TotalItems, e.Meta.MaxDepth,
		e.Meta.BuildTimeMs, pq.Array(folderIDs))
	if err != nil {
		return cache.WriteError(e.Key, err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *CacheStore) Delete(ctx context.Context, key string) (_ int, err error) {
	defer track("cache_delete")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE cache_key = $1`, key)
}

// DeleteByPrefix implements cache.Store.
func (s *CacheStore) DeleteByPrefix(ctx context.Context, prefix string) (_ int, err error) {
	defer track("cache_delete_prefix")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE cache_key LIKE $1 ESCAPE '\'`, escapeLike(prefix)+"%")
}

// DeleteAll implements cache.Store.
func (s *CacheStore) DeleteAll(ctx context.Context) (_ int, err error) {
	defer track("cache_delete_all")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache`)
}

// DeleteOlderThan implements cache.Store.
func (s *CacheStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (_ int, err error) {
	defer track("cache_delete_expired")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE built_at < $1`, cutoff)
}

// List implements cache.Store.
func (s *CacheStore) List(ctx context.Context) (_ []cache.EntryInfo, err error) {
	defer track("cache_list")(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT cache_key, built_at, total_items, max_depth, build_time_ms, folder_ids
		FROM hierarchy_cache ORDER BY cache_key`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var out []cache.EntryInfo
	for rows.Next() {
		var e cache.EntryInfo
		if err := rows.Scan(&e.Key, &e.BuiltAt, &e.Meta.TotalItems, &e.Meta.MaxDepth,
			&e.Meta.BuildTimeMs, pq.Array(&e.Meta.FolderIDs)); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (s *CacheStore) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
