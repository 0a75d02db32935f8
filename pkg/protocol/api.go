// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// HierarchyStats mirrors the read path statistics.
type HierarchyStats struct {
	TotalItems      int   `json:"total_items"`
	MaxDepth        int   `json:"max_depth"`
	FromCache       bool  `json:"from_cache"`
	Stale           bool  `json:"stale"`
	CacheAgeSeconds int64 `json:"cache_age_seconds"`
	BuildTimeMs     int64 `json:"build_time_ms"`
}

// HierarchyResponse is returned by GET /api/v1/hierarchy/{route}
type HierarchyResponse struct {
	Route     *models.RouteConfig    `json:"route"`
	Hierarchy *models.HierarchyNode  `json:"hierarchy"`
	Staleness models.StalenessStatus `json:"staleness"`
	Stats     HierarchyStats         `json:"stats"`
}

// RouteStatus is one row of GET /api/v1/routes
type RouteStatus struct {
	Route        *models.RouteConfig    `json:"route"`
	Staleness    models.StalenessStatus `json:"staleness"`
	SyncState    string                 `json:"sync_state"`
	LastSyncedAt *time.Time             `json:"last_synced_at,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
	Cached       bool                   `json:"cached"`
	CacheBuiltAt *time.Time             `json:"cache_built_at,omitempty"`
	TotalItems   int                    `json:"total_items,omitempty"`
}

// RouteListResponse is returned by GET /api/v1/routes
type RouteListResponse struct {
	Routes []RouteStatus `json:"routes"`
}

// RouteRequest is the body for PUT /api/v1/admin/routes
type RouteRequest struct {
	Slug           string         `json:"slug"`
	FolderIDs      []string       `json:"folder_ids"`
	Title          string         `json:"title"`
	Subtitle       string         `json:"subtitle,omitempty"`
	Description    string         `json:"description,omitempty"`
	IsActive       *bool          `json:"is_active,omitempty"`
	CustomSettings map[string]any `json:"custom_settings,omitempty"`
}

// SyncResponse is returned by POST /api/v1/admin/sync/{route}
type SyncResponse struct {
	Route      *models.RouteConfig `json:"route"`
	TotalItems int                 `json:"total_items"`
	MaxDepth   int                 `json:"max_depth"`
}

// InvalidateResponse is returned by the invalidation and cleanup endpoints.
type InvalidateResponse struct {
	Route   string `json:"route,omitempty"`
	Removed int    `json:"removed"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}
