// Package syncer rebuilds route hierarchies from Drive. At most one rebuild
// per route runs at a time; concurrent callers join it or are turned away.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/tree"
)

// Mode selects how failures are reported to the caller.
type Mode string

const (
	// ModeSilent logs failures and returns the route unchanged.
	ModeSilent Mode = "silent"
	// ModeExplicit returns failures as *SyncError.
	ModeExplicit Mode = "explicit"
)

// Policy decides what a caller gets while the route is already syncing.
type Policy int

const (
	// JoinInFlight waits for the running sync and shares its result.
	JoinInFlight Policy = iota
	// RejectInFlight fails fast with KindAlreadySyncing.
	RejectInFlight
)

// ParsePolicy maps "join" and "reject" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "join":
		return JoinInFlight, nil
	case "reject":
		return RejectInFlight, nil
	default:
		return JoinInFlight, fmt.Errorf("unknown sync policy %q", s)
	}
}

// Config tunes a Coordinator.
type Config struct {
	Policy           Policy
	Timeout          time.Duration
	FetchConcurrency int
}

// State is whether a route is being rebuilt.
type State string

const (
	StatusIdle    State = "idle"
	StatusSyncing State = "syncing"
)

// Status describes the current and last sync of a route.
type Status struct {
	Route        string        `json:"route"`
	State        State         `json:"state"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	LastSyncedAt time.Time     `json:"last_synced_at,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastKind     Kind          `json:"last_kind,omitempty"`
}

// Result is a finished rebuild: the route carrying its new Hierarchy and
// the metadata stored with the cached tree.
type Result struct {
	Route *models.RouteConfig
	Meta  models.CacheMeta
}

// call is one in-flight rebuild shared by every caller that joins it.
type call struct {
	done    chan struct{}
	waiters int
	res     *Result
	err     *SyncError
}

// Coordinator runs rebuilds and owns the in-flight map.
type Coordinator struct {
	reader   drive.Reader
	registry *routes.Registry
	cache    cache.Store
	events   events.Publisher
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
	status   map[string]*Status
}

// New creates a coordinator. A nil publisher discards events.
func New(reader drive.Reader, registry *routes.Registry, store cache.Store, pub events.Publisher, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Coordinator{
		reader:   reader,
		registry: registry,
		cache:    store,
		events:   pub,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[string]*call),
		status:   make(map[string]*Status),
	}
}

// SetClock replaces the coordinator clock.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Sync rebuilds route from Drive, stores the tree in the cache and stamps
// LastUpdated. The returned route carries the new Hierarchy.
func (c *Coordinator) Sync(ctx context.Context, route *models.RouteConfig, mode Mode) (*models.RouteConfig, error) {
	res, err := c.SyncResult(ctx, route, mode)
	if err != nil {
		return nil, err
	}
	return res.Route, nil
}

// SyncResult is Sync returning the cache metadata of the rebuild too. A
// silent failure yields the route unchanged and a zero Meta.
//
// The rebuild runs on a context detached from ctx and bounded by the
// configured timeout, so a caller that gives up does not abort it for the
// callers that joined.
func (c *Coordinator) SyncResult(ctx context.Context, route *models.RouteConfig, mode Mode) (*Result, error) {
	if err := routes.Validate(route); err != nil {
		key := ""
		if route != nil {
			key = route.Slug
		}
		return c.report(ctx, mode, route, &SyncError{Kind: KindConfiguration, Route: key, Err: err})
	}

	key := flightKey(route)
	c.mu.Lock()
	cl, running := c.inflight[key]
	if running && c.cfg.Policy == RejectInFlight {
		c.mu.Unlock()
		metrics.RecordSyncRejected()
		return c.report(ctx, mode, route, &SyncError{Kind: KindAlreadySyncing, Route: route.Slug})
	}
	if running {
		cl.waiters++
		metrics.RecordSyncJoined()
	} else {
		cl = &call{done: make(chan struct{})}
		c.inflight[key] = cl
		c.setStatusLocked(key, func(s *Status) {
			s.State = StatusSyncing
			s.StartedAt = c.now()
		})
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		go func() {
			defer cancel()
			c.execute(runCtx, route.Clone(), mode, cl)
		}()
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
	case <-ctx.Done():
		kind := KindUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return c.report(ctx, mode, route, &SyncError{Kind: kind, Route: route.Slug, Err: ctx.Err()})
	}
	if cl.err != nil {
		return c.report(ctx, mode, route, cl.err)
	}
	return &Result{Route: cl.res.Route.Clone(), Meta: cl.res.Meta}, nil
}

// report applies the mode to a failure.
func (c *Coordinator) report(ctx context.Context, mode Mode, route *models.RouteConfig, err *SyncError) (*Result, error) {
	if mode == ModeExplicit {
		return nil, err
	}
	logging.WithContext(ctx).Warn("silent sync failed",
		zap.String("route", err.Route),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err))
	return &Result{Route: route}, nil
}

// execute performs one rebuild and publishes its result to every waiter.
func (c *Coordinator) execute(ctx context.Context, route *models.RouteConfig, mode Mode, cl *call) {
	start := time.Now()
	log := logging.WithRoute(ctx, route.Slug, zap.String("mode", string(mode)))
	c.events.Publish(events.Event{Type: events.EventSyncStarted, Route: route.Slug, Mode: string(mode)})

	res, err := c.rebuild(ctx, route)

	elapsed := time.Since(start)
	metrics.RecordSync(string(mode), err == nil, elapsed)

	key := flightKey(route)
	c.mu.Lock()
	delete(c.inflight, key)
	c.setStatusLocked(key, func(s *Status) {
		s.State = StatusIdle
		s.LastDuration = elapsed
		if err != nil {
			s.LastError = err.Error()
			s.LastKind = err.Kind
			return
		}
		s.LastError = ""
		s.LastKind = ""
		s.LastSyncedAt = res.Route.LastUpdated
	})
	cl.res, cl.err = res, err
	waiters := cl.waiters
	c.mu.Unlock()
	close(cl.done)

	if err != nil {
		log.Warn("sync failed", zap.String("kind", string(err.Kind)), zap.Duration("duration", elapsed), zap.Error(err.Err))
		c.events.Publish(events.Event{Type: events.EventSyncFailed, Route: route.Slug, Mode: string(mode), Error: err.Error()})
		return
	}
	total := res.Meta.TotalItems
	metrics.SetHierarchyNodes(route.Slug, total)
	log.Info("sync completed",
		zap.Int("total_items", total),
		zap.Int("joined", waiters),
		zap.Duration("duration", elapsed))
	c.events.Publish(events.Event{Type: events.EventSyncCompleted, Route: route.Slug, Mode: string(mode), TotalItems: total})
}

// rebuild fetches, builds and persists. Nothing is written unless every
// folder was fetched and the tree is complete. The cache entry and the
// route's LastUpdated change together: if the route cannot be stamped the
// previous cache entry is put back.
func (c *Coordinator) rebuild(ctx context.Context, route *models.RouteConfig) (*Result, *SyncError) {
	fail := func(err error) *SyncError {
		return &SyncError{Kind: classify(err), Route: route.Slug, Err: err}
	}

	buildStart := time.Now()
	root, err := c.fetchAndBuild(ctx, route)
	if err != nil {
		return nil, fail(err)
	}
	if err := tree.Validate(root); err != nil {
		return nil, &SyncError{Kind: KindInternal, Route: route.Slug, Err: err}
	}
	buildTime := time.Since(buildStart)

	key := routes.NormalizeKey(route.Slug)
	if _, err := c.registry.Get(ctx, key); err != nil {
		return nil, fail(err)
	}
	prev, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, fail(cache.WriteError(key, fmt.Errorf("read previous entry: %w", err)))
	}

	builtAt := c.now()
	entry := &models.CacheEntry{
		Key:     key,
		Tree:    root,
		BuiltAt: builtAt,
		Meta: models.CacheMeta{
			TotalItems:  tree.CountNodes(root),
			MaxDepth:    tree.MaxDepth(root),
			BuildTimeMs: buildTime.Milliseconds(),
			FolderIDs:   append([]string(nil), route.FolderIDs...),
		},
	}
	if err := c.cache.Put(ctx, entry); err != nil {
		if !errors.Is(err, cache.ErrWrite) {
			err = cache.WriteError(route.Slug, err)
		}
		return nil, fail(err)
	}

	updated, err := c.registry.MarkSynced(ctx, route, builtAt)
	if err != nil {
		c.restore(ctx, key, prev)
		return nil, fail(err)
	}
	updated.Hierarchy = root
	return &Result{Route: updated, Meta: entry.Meta}, nil
}

// restore puts prev back under key, or removes key when there was no
// previous entry. It runs even when the sync deadline has passed.
func (c *Coordinator) restore(ctx context.Context, key string, prev *models.CacheEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	var err error
	if prev != nil {
		err = c.cache.Put(ctx, prev)
	} else {
		_, err = c.cache.Delete(ctx, key)
	}
	if err != nil {
		logging.WithRoute(ctx, key).Error("cache rollback failed", zap.Error(err))
	}
}

// fetchAndBuild lists every folder concurrently and builds one tree. Several
// folders are merged under a super-root named after the route.
func (c *Coordinator) fetchAndBuild(ctx context.Context, route *models.RouteConfig) (*models.HierarchyNode, error) {
	roots := make([]*models.HierarchyNode, len(route.FolderIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, folderID := range route.FolderIDs {
		g.Go(func() error {
			info, err := c.reader.GetFolderInfo(gctx, folderID)
			if err != nil {
				return fmt.Errorf("folder info %s: %w", folderID, err)
			}
			items, err := c.reader.ListItems(gctx, folderID)
			if err != nil {
				return fmt.Errorf("list %s: %w", folderID, err)
			}
			roots[i] = tree.Build(folderID, info.Name, items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(roots) == 1 {
		return roots[0], nil
	}
	name := route.Title
	if name == "" {
		name = route.Slug
	}
	return tree.Merge(route.ID, name, roots), nil
}

// Status returns the sync state of the route at routeKey.
func (c *Coordinator) Status(routeKey string) Status {
	key := routes.NormalizeKey(routeKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.status[key]; ok {
		return *s
	}
	return Status{Route: key, State: StatusIdle}
}

// InFlight reports whether a rebuild of the route at routeKey is running.
func (c *Coordinator) InFlight(routeKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[routes.NormalizeKey(routeKey)]
	return ok
}

// flightKey identifies a route in the in-flight and status maps. The
// normalized slug is the one key no two routes share.
func flightKey(route *models.RouteConfig) string {
	return routes.NormalizeKey(route.Slug)
}

func (c *Coordinator) setStatusLocked(key string, fn func(*Status)) {
	s, ok := c.status[key]
	if !ok {
		s = &Status{Route: key}
		c.status[key] = s
	}
	fn(s)
}
