// Package routes holds the configured routes: URL paths mapped to Drive
// folders, with display metadata and freshness state.
package routes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/pkg/models"
)

var (
	// ErrNotFound is returned when no route matches a key.
	ErrNotFound = errors.New("route not found")
	// ErrInactive is returned when reading an inactive route.
	ErrInactive = errors.New("route inactive")
)

// ValidationError is a route configuration rejected before any sync.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Store persists route configurations. Keys are normalized slugs.
type Store interface {
	Get(ctx context.Context, key string) (*models.RouteConfig, error) // nil, nil when absent
	List(ctx context.Context) ([]*models.RouteConfig, error)
	Save(ctx context.Context, route *models.RouteConfig) error
	Delete(ctx context.Context, key string) error
}

var slugSegment = regexp.MustCompile(`^[\p{L}\p{N}._~-]+$`)

// NormalizeKey returns the canonical form of a route path: a leading
// slash, no trailing slash, no empty segments. The root route is "/".
func NormalizeKey(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// IsDescendant reports whether key lies strictly below ancestor, comparing
// whole path segments.
func IsDescendant(key, ancestor string) bool {
	key, ancestor = NormalizeKey(key), NormalizeKey(ancestor)
	if ancestor == "/" {
		return key != "/"
	}
	return strings.HasPrefix(key, ancestor+"/")
}

// Registry validates and manages routes on top of a Store. Writes to one
// key are serialized so read-modify-write updates do not lose each other.
type Registry struct {
	store Store
	now   func() time.Time
	locks sync.Map // key -> *sync.Mutex
}

// NewRegistry creates a registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// lock holds the write lock for key until the returned func is called.
func (r *Registry) lock(key string) func() {
	m, _ := r.locks.LoadOrStore(NormalizeKey(key), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Validate checks a route before it is saved.
func Validate(route *models.RouteConfig) error {
	if route == nil {
		return &ValidationError{Field: "route", Message: "is required"}
	}
	key := NormalizeKey(route.Slug)
	if key != "/" {
		for _, seg := range strings.Split(key[1:], "/") {
			if !slugSegment.MatchString(seg) {
				return &ValidationError{Field: "slug", Message: fmt.Sprintf("invalid segment %q", seg)}
			}
		}
	}
	if len(route.FolderIDs) == 0 {
		return &ValidationError{Field: "folder_ids", Message: "at least one folder id is required"}
	}
	seen := make(map[string]bool, len(route.FolderIDs))
	for _, id := range route.FolderIDs {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "folder_ids", Message: "folder id must not be empty"}
		}
		if seen[id] {
			return &ValidationError{Field: "folder_ids", Message: fmt.Sprintf("duplicate folder id %q", id)}
		}
		seen[id] = true
	}
	return nil
}

// Get returns the route for key or ErrNotFound.
func (r *Registry) Get(ctx context.Context, key string) (*models.RouteConfig, error) {
	route, err := r.store.Get(ctx, NormalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	if route == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, NormalizeKey(key))
	}
	return route, nil
}

// List returns every route.
func (r *Registry) List(ctx context.Context) ([]*models.RouteConfig, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return list, nil
}

// Upsert validates and stores a route. LastUpdated of an existing route is
// kept; only the sync coordinator moves it forward.
func (r *Registry) Upsert(ctx context.Context, route *models.RouteConfig) (*models.RouteConfig, error) {
	if err := Validate(route); err != nil {
		return nil, err
	}
	cp := route.Clone()
	cp.Slug = NormalizeKey(cp.Slug)
	cp.Hierarchy = nil
	defer r.lock(cp.Slug)()

	existing, err := r.store.Get(ctx, cp.Slug)
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	now := r.now()
	if existing != nil {
		cp.ID = existing.ID
		cp.LastUpdated = existing.LastUpdated
		cp.CreatedAt = existing.CreatedAt
	} else {
		if err := r.checkID(ctx, cp); err != nil {
			return nil, err
		}
		cp.LastUpdated = time.Time{}
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if err := r.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save route: %w", err)
	}
	logging.Info("route saved",
		zap.String("route", cp.Slug),
		zap.Strings("folder_ids", cp.FolderIDs),
		zap.Bool("active", cp.IsActive))
	return cp, nil
}

// Update changes display metadata and custom settings of an existing route.
type Update struct {
	Title          *string
	Subtitle       *string
	Description    *string
	CustomSettings map[string]any
}

// Update applies u to the route at key.
func (r *Registry) Update(ctx context.Context, key string, u Update) (*models.RouteConfig, error) {
	defer r.lock(key)()
	route, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cp := route.Clone()
	if u.Title != nil {
		cp.Title = *u.Title
	}
	if u.Subtitle != nil {
		cp.Subtitle = *u.Subtitle
	}
	if u.Description != nil {
		cp.Description = *u.Description
	}
	if u.CustomSettings != nil {
		cp.CustomSettings = u.CustomSettings
	}
	cp.UpdatedAt = r.now()
	if err := r.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save route: %w", err)
	}
	return cp, nil
}

// Toggle flips the active flag of the route at key.
func (r *Registry) Toggle(ctx context.Context, key string) (*models.RouteConfig, error) {
	defer r.lock(key)()
	route, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cp := route.Clone()
	cp.IsActive = !cp.IsActive
	cp.UpdatedAt = r.now()
	if err := r.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save route: %w", err)
	}
	logging.Info("route toggled", zap.String("route", cp.Slug), zap.Bool("active", cp.IsActive))
	return cp, nil
}

// Delete removes the route at key.
func (r *Registry) Delete(ctx context.Context, key string) error {
	defer r.lock(key)()
	if _, err := r.Get(ctx, key); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, NormalizeKey(key)); err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	return nil
}

// MarkSynced records a successful rebuild. It is reserved for the sync
// coordinator. Only LastUpdated changes; edits saved since the sync started
// are kept. A route deleted meanwhile yields ErrNotFound.
func (r *Registry) MarkSynced(ctx context.Context, route *models.RouteConfig, at time.Time) (*models.RouteConfig, error) {
	defer r.lock(route.Slug)()
	current, err := r.Get(ctx, route.Slug)
	if err != nil {
		return nil, err
	}
	cp := current.Clone()
	cp.LastUpdated = at
	if err := r.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save route: %w", err)
	}
	return cp, nil
}

// Status returns the staleness badge of route at the registry's clock.
func (r *Registry) Status(route *models.RouteConfig) models.StalenessStatus {
	return Classify(route.LastUpdated, route.IsActive, r.now())
}

// SetClock replaces the registry clock. Tests use it to move time.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// checkID assigns a fresh id to a new route, or rejects a caller-chosen id
// that another route already carries.
func (r *Registry) checkID(ctx context.Context, route *models.RouteConfig) error {
	if route.ID == "" {
		route.ID = "route-" + uuid.NewString()
		return nil
	}
	list, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	for _, other := range list {
		if other.ID == route.ID && other.Slug != route.Slug {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("%q is used by %s", route.ID, other.Slug)}
		}
	}
	return nil
}
