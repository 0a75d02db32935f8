package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// RouteStore implements routes.Store on the routes table. Folder ids and
// custom settings are stored as JSON text.
type RouteStore struct {
	db *sql.DB
}

const routeColumns = `id, slug, folder_ids, title, subtitle, description, is_active,
	last_updated, custom_settings, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (*models.RouteConfig, error) {
	var (
		r                    models.RouteConfig
		folderIDs            string
		lastUpdated          sql.NullInt64
		settings             sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.Slug, &folderIDs, &r.Title, &r.Subtitle, &r.Description,
		&r.IsActive, &lastUpdated, &settings, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(folderIDs), &r.FolderIDs); err != nil {
		return nil, fmt.Errorf("decode folder ids for %s: %w", r.Slug, err)
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &r.CustomSettings); err != nil {
			return nil, fmt.Errorf("decode custom settings for %s: %w", r.Slug, err)
		}
	}
	if lastUpdated.Valid {
		r.LastUpdated = fromUnix(lastUpdated.Int64)
	}
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	return &r, nil
}

// Get implements routes.Store.
func (s *RouteStore) Get(ctx context.Context, key string) (_ *models.RouteConfig, err error) {
	defer track("route_get")(&err)
	r, err := scanRoute(s.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE slug = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query route %s: %w", key, err)
	}
	return r, nil
}

// List implements routes.Store.
func (s *RouteStore) List(ctx context.Context) (_ []*models.RouteConfig, err error) {
	defer track("route_list")(&err)
	rows, err := s.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var out []*models.RouteConfig
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Save implements routes.Store.
func (s *RouteStore) Save(ctx context.Context, r *models.RouteConfig) (err error) {
	defer track("route_save")(&err)

	folderIDs, err := json.Marshal(r.FolderIDs)
	if err != nil {
		return fmt.Errorf("encode folder ids: %w", err)
	}
	var settings sql.NullString
	if r.CustomSettings != nil {
		b, err := json.Marshal(r.CustomSettings)
		if err != nil {
			return fmt.Errorf("encode custom settings: %w", err)
		}
		settings = sql.NullString{String: string(b), Valid: true}
	}
	var lastUpdated sql.NullInt64
	if !r.LastUpdated.IsZero() {
		lastUpdated = sql.NullInt64{Int64: toUnix(r.LastUpdated), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (`+routeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			folder_ids = excluded.folder_ids,
			title = excluded.title,
			subtitle = excluded.subtitle,
			description = excluded.description,
			is_active = excluded.is_active,
			last_updated = excluded.last_updated,
			custom_settings = excluded.custom_settings,
			updated_at = excluded.updated_at`,
		r.ID, r.Slug, string(folderIDs), r.Title, r.Subtitle, r.Description, r.IsActive,
		lastUpdated, settings, toUnix(r.CreatedAt), toUnix(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert route %s: %w", r.Slug, err)
	}
	return nil
}

// Delete implements routes.Store.
func (s *RouteStore) Delete(ctx context.Context, key string) (err error) {
	defer track("route_delete")(&err)
	if _, err = s.db.ExecContext(ctx, `DELETE FROM routes WHERE slug = ?`, key); err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	return nil
}
