package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// RouteStore implements routes.Store on the routes table.
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
		r           models.RouteConfig
		lastUpdated sql.NullTime
		settings    []byte
	)
	if err := row.Scan(&r.ID, &r.Slug, pq.Array(&r.FolderIDs), &r.Title, &r.Subtitle,
		&r.Description, &r.IsActive, &lastUpdated, &settings, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		r.LastUpdated = lastUpdated.Time
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &r.CustomSettings); err != nil {
			return nil, fmt.Errorf("decode custom settings for %s: %w", r.Slug, err)
		}
	}
	return &r, nil
}

// Get implements routes.Store.
func (s *RouteStore) Get(ctx context.Context, key string) (_ *models.RouteConfig, err error) {
	defer track("route_get")(&err)
	r, err := scanRoute(s.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE slug = $1`, key))
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

	var settings []byte
	if r.CustomSettings != nil {
		if settings, err = json.Marshal(r.CustomSettings); err != nil {
			return fmt.Errorf("encode custom settings: %w", err)
		}
	}
	var lastUpdated sql.NullTime
	if !r.LastUpdated.IsZero() {
		lastUpdated = sql.NullTime{Time: r.LastUpdated, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (`+routeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slug) DO UPDATE SET
			folder_ids = EXCLUDED.folder_ids,
			title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			last_updated = EXCLUDED.last_updated,
			custom_settings = EXCLUDED.custom_settings,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.Slug, pq.Array(r.FolderIDs), r.Title, r.Subtitle, r.Description, r.IsActive,
		lastUpdated, nullJSON(settings), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert route %s: %w", r.Slug, err)
	}
	return nil
}

// Delete implements routes.Store.
func (s *RouteStore) Delete(ctx context.Context, key string) (err error) {
	defer track("route_delete")(&err)
	if _, err = s.db.ExecContext(ctx, `DELETE FROM routes WHERE slug = $1`, key); err != nil {
		return fmt.Errorf("delete route %s: %w", key, err)
	}
	return nil
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
