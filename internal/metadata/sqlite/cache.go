package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/pkg/models"
)

// CacheStore implements cache.Store on the hierarchy_cache table.
type CacheStore struct {
	db *sql.DB
}

// Get implements cache.Store.
func (s *CacheStore) Get(ctx context.Context, key string) (_ *models.CacheEntry, err error) {
	defer track("cache_get")(&err)

	var (
		e         models.CacheEntry
		tree      string
		folderIDs string
		builtAt   int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT cache_key, tree, built_at, total_items, max_depth, build_time_ms, folder_ids
		FROM hierarchy_cache WHERE cache_key = ?`, key).
		Scan(&e.Key, &tree, &builtAt, &e.Meta.TotalItems, &e.Meta.MaxDepth, &e.Meta.BuildTimeMs, &folderIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cache %s: %w", key, err)
	}
	if err = json.Unmarshal([]byte(tree), &e.Tree); err != nil {
		return nil, fmt.Errorf("decode cached tree %s: %w", key, err)
	}
	if err = json.Unmarshal([]byte(folderIDs), &e.Meta.FolderIDs); err != nil {
		return nil, fmt.Errorf("decode folder ids %s: %w", key, err)
	}
	e.BuiltAt = fromUnix(builtAt)
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
	ids, err := json.Marshal(folderIDs)
	if err != nil {
		return cache.WriteError(e.Key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hierarchy_cache (cache_key, tree, built_at, total_items, max_depth, build_time_ms, folder_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			tree = excluded.tree,
			built_at = excluded.built_at,
			total_items = excluded.total_items,
			max_depth = excluded.max_depth,
			build_time_ms = excluded.build_time_ms,
			folder_ids = excluded.folder_ids`,
		e.Key, string(tree), toUnix(e.BuiltAt), e.Meta.TotalItems, e.Meta.MaxDepth,
		e.Meta.BuildTimeMs, string(ids))
	if err != nil {
		return cache.WriteError(e.Key, err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *CacheStore) Delete(ctx context.Context, key string) (_ int, err error) {
	defer track("cache_delete")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE cache_key = ?`, key)
}

// DeleteByPrefix implements cache.Store. SQLite LIKE ignores ASCII case, so
// the prefix is compared with substr instead.
func (s *CacheStore) DeleteByPrefix(ctx context.Context, prefix string) (_ int, err error) {
	defer track("cache_delete_prefix")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE substr(cache_key, 1, length(?1)) = ?1`, prefix)
}

// DeleteAll implements cache.Store.
func (s *CacheStore) DeleteAll(ctx context.Context) (_ int, err error) {
	defer track("cache_delete_all")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache`)
}

// DeleteOlderThan implements cache.Store.
func (s *CacheStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (_ int, err error) {
	defer track("cache_delete_expired")(&err)
	return s.exec(ctx, `DELETE FROM hierarchy_cache WHERE built_at < ?`, toUnix(cutoff))
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
		var (
			e         cache.EntryInfo
			builtAt   int64
			folderIDs string
		)
		if err := rows.Scan(&e.Key, &builtAt, &e.Meta.TotalItems, &e.Meta.MaxDepth,
			&e.Meta.BuildTimeMs, &folderIDs); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if err := json.Unmarshal([]byte(folderIDs), &e.Meta.FolderIDs); err != nil {
			return nil, fmt.Errorf("decode folder ids %s: %w", e.Key, err)
		}
		e.BuiltAt = fromUnix(builtAt)
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
