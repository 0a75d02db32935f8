// Package hierarchy serves route hierarchies. It decides per request whether
// the cached tree is good enough or a rebuild is due, and exposes the admin
// operations on routes and the cache.
package hierarchy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/internal/syncer"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/tree"
)

var (
	ErrRouteNotFound = routes.ErrNotFound
	ErrRouteInactive = routes.ErrInactive
)

// ResolveOptions tunes a read.
type ResolveOptions struct {
	// MaxDepth limits the returned tree to that many levels below the
	// root. Zero returns the whole tree.
	MaxDepth int
	// ForceRefresh rebuilds from Drive before answering.
	ForceRefresh bool
}

// Stats describes how a result was produced.
type Stats struct {
	TotalItems      int   `json:"total_items"`
	MaxDepth        int   `json:"max_depth"`
	FromCache       bool  `json:"from_cache"`
	Stale           bool  `json:"stale"`
	CacheAgeSeconds int64 `json:"cache_age_seconds"`
	BuildTimeMs     int64 `json:"build_time_ms"`
}

// Result is a resolved hierarchy.
type Result struct {
	Route     *models.RouteConfig    `json:"route"`
	Root      *models.HierarchyNode  `json:"hierarchy"`
	Staleness models.StalenessStatus `json:"staleness"`
	Stats     Stats                  `json:"stats"`
}

// RouteStatus is one row of the admin route table.
type RouteStatus struct {
	Route        *models.RouteConfig    `json:"route"`
	Staleness    models.StalenessStatus `json:"staleness"`
	Sync         syncer.Status          `json:"sync"`
	Cached       bool                   `json:"cached"`
	CacheBuiltAt *time.Time             `json:"cache_built_at,omitempty"`
	TotalItems   int                    `json:"total_items,omitempty"`
}

// Service is the read path and admin facade.
type Service struct {
	registry    *routes.Registry
	cache       cache.Store
	invalidator *cache.Invalidator
	coord       *syncer.Coordinator
	now         func() time.Time
}

// NewService wires a service.
func NewService(registry *routes.Registry, store cache.Store, inv *cache.Invalidator, coord *syncer.Coordinator) *Service {
	return &Service{
		registry:    registry,
		cache:       store,
		invalidator: inv,
		coord:       coord,
		now:         time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ResolveHierarchy returns the hierarchy of the route at routeKey.
//
// Fresh and stale trees are served from the cache, stale ones flagged.
// Warn-tier trees trigger a silent rebuild and fall back to the cache when
// it fails. A missing tree or ForceRefresh triggers an explicit rebuild; a
// failed forced rebuild still serves the last cached tree when one exists.
func (s *Service) ResolveHierarchy(ctx context.Context, routeKey string, opts ResolveOptions) (*Result, error) {
	route, err := s.registry.Get(ctx, routeKey)
	if err != nil {
		return nil, err
	}
	if !route.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrRouteInactive, route.Slug)
	}
	log := logging.WithRoute(ctx, route.Slug)

	if opts.ForceRefresh {
		updated, syncErr := s.coord.SyncResult(ctx, route, syncer.ModeExplicit)
		if syncErr == nil {
			metrics.RecordCacheLookup("refresh")
			return s.fromSync(updated, opts), nil
		}
		entry := s.lookup(ctx, route.Slug)
		if entry == nil {
			return nil, syncErr
		}
		log.Warn("forced refresh failed, serving cached hierarchy", zap.Error(syncErr))
		metrics.RecordCacheLookup("fallback")
		res := s.fromCache(route, entry, opts)
		res.Stats.Stale = true
		return res, nil
	}

	entry := s.lookup(ctx, route.Slug)
	if entry == nil {
		metrics.RecordCacheLookup("miss")
		updated, err := s.coord.SyncResult(ctx, route, syncer.ModeExplicit)
		if err != nil {
			return nil, err
		}
		return s.fromSync(updated, opts), nil
	}

	switch routes.Classify(route.LastUpdated, route.IsActive, s.now()) {
	case models.StatusWarn:
		updated, _ := s.coord.SyncResult(ctx, route, syncer.ModeSilent)
		if updated != nil && updated.Route.Hierarchy != nil {
			metrics.RecordCacheLookup("warn_refresh")
			return s.fromSync(updated, opts), nil
		}
		metrics.RecordCacheLookup("hit")
		return s.fromCache(route, entry, opts), nil
	case models.StatusStale:
		metrics.RecordCacheLookup("stale")
		res := s.fromCache(route, entry, opts)
		res.Stats.Stale = true
		return res, nil
	default:
		metrics.RecordCacheLookup("hit")
		return s.fromCache(route, entry, opts), nil
	}
}

// lookup reads the cache. A failing cache read counts as a miss.
func (s *Service) lookup(ctx context.Context, key string) *models.CacheEntry {
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		logging.WithContext(ctx).Warn("cache read failed", zap.String("route", key), zap.Error(err))
		return nil
	}
	if entry == nil || entry.Tree == nil {
		return nil
	}
	return entry
}

func (s *Service) fromSync(synced *syncer.Result, opts ResolveOptions) *Result {
	root := synced.Route.Hierarchy
	cp := synced.Route.Clone()
	cp.Hierarchy = nil
	res := s.result(cp, root, opts)
	res.Stats.BuildTimeMs = synced.Meta.BuildTimeMs
	return res
}

func (s *Service) fromCache(route *models.RouteConfig, entry *models.CacheEntry, opts ResolveOptions) *Result {
	res := s.result(route, entry.Tree, opts)
	res.Stats.FromCache = true
	res.Stats.BuildTimeMs = entry.Meta.BuildTimeMs
	res.Stats.CacheAgeSeconds = int64(cache.Age(entry, s.now()).Seconds())
	return res
}

func (s *Service) result(route *models.RouteConfig, root *models.HierarchyNode, opts ResolveOptions) *Result {
	if opts.MaxDepth > 0 {
		root = tree.Prune(root, opts.MaxDepth)
	}
	return &Result{
		Route:     route,
		Root:      root,
		Staleness: routes.Classify(route.LastUpdated, route.IsActive, s.now()),
		Stats: Stats{
			TotalItems: tree.CountNodes(root),
			MaxDepth:   tree.MaxDepth(root),
		},
	}
}

// SyncNow rebuilds the route at routeKey and reports failures.
func (s *Service) SyncNow(ctx context.Context, routeKey string) (*models.RouteConfig, error) {
	route, err := s.registry.Get(ctx, routeKey)
	if err != nil {
		return nil, err
	}
	return s.coord.Sync(ctx, route, syncer.ModeExplicit)
}

// Invalidate drops the cached tree of routeKey, optionally with every
// route below it.
func (s *Service) Invalidate(ctx context.Context, routeKey string, includeDescendants bool) (int, error) {
	return s.invalidator.InvalidateRoute(ctx, routeKey, cache.InvalidateOptions{IncludeDescendants: includeDescendants})
}

// InvalidateAll drops every cached tree.
func (s *Service) InvalidateAll(ctx context.Context) (int, error) {
	return s.invalidator.InvalidateAll(ctx)
}

// CleanupExpired drops cached trees older than maxAgeHours.
func (s *Service) CleanupExpired(ctx context.Context, maxAgeHours int) (int, error) {
	return s.invalidator.CleanupExpired(ctx, maxAgeHours)
}

// RouteStatuses lists every route with its staleness badge, sync state and
// cache presence.
func (s *Service) RouteStatuses(ctx context.Context) ([]RouteStatus, error) {
	list, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.cache.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	byKey := make(map[string]cache.EntryInfo, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}

	now := s.now()
	out := make([]RouteStatus, 0, len(list))
	for _, r := range list {
		st := RouteStatus{
			Route:     r,
			Staleness: routes.Classify(r.LastUpdated, r.IsActive, now),
			Sync:      s.coord.Status(r.Slug),
		}
		if e, ok := byKey[r.Slug]; ok {
			builtAt := e.BuiltAt
			st.Cached = true
			st.CacheBuiltAt = &builtAt
			st.TotalItems = e.Meta.TotalItems
		}
		out = append(out, st)
	}
	return out, nil
}

// Registry returns the route registry.
func (s *Service) Registry() *routes.Registry {
	return s.registry
}
