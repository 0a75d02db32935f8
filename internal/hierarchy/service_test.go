package hierarchy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/internal/syncer"
	"github.com/fruitsalade/drivecms/pkg/models"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	svc    *Service
	reader *drive.MemoryReader
	cache  *cache.MemoryStore
	clock  time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{reader: drive.NewMemoryReader(), cache: cache.NewMemoryStore(), clock: t0}

	e.reader.SetFolder("F1", "Marketing", []models.DriveItem{
		{ID: "hero", Name: "01_Image_Hero.jpg", MimeType: "image/jpeg", DriveType: models.DriveFile, PathSegments: []string{"2024", "Q1"}},
		{ID: "deck", Name: "02_Presentation_Deck", MimeType: "application/vnd.google-apps.presentation", DriveType: models.DriveFile, PathSegments: []string{"2024"}},
		{ID: "brief", Name: "brief.pdf", MimeType: "application/pdf", DriveType: models.DriveFile},
	})
	e.reader.SetFolder("F2", "Academy", []models.DriveItem{
		{ID: "intro", Name: "intro.mp4", MimeType: "video/mp4", DriveType: models.DriveFile},
	})

	registry := routes.NewRegistry(routes.NewMemoryStore())
	ctx := context.Background()
	_, err := registry.Upsert(ctx, &models.RouteConfig{Slug: "/marketing", FolderIDs: []string{"F1"}, Title: "Marketing", IsActive: true})
	require.NoError(t, err)
	_, err = registry.Upsert(ctx, &models.RouteConfig{Slug: "/marketing/eventos", FolderIDs: []string{"F2"}, IsActive: true})
	require.NoError(t, err)
	_, err = registry.Upsert(ctx, &models.RouteConfig{Slug: "/archive", FolderIDs: []string{"F2"}, IsActive: false})
	require.NoError(t, err)

	coord := syncer.New(e.reader, registry, e.cache, nil, syncer.Config{})
	coord.SetClock(func() time.Time { return e.clock })
	e.svc = NewService(registry, e.cache, cache.NewInvalidator(e.cache, nil), coord)
	e.svc.SetClock(func() time.Time { return e.clock })
	return e
}

func TestResolveUnknownAndInactive(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.ResolveHierarchy(context.Background(), "/nope", ResolveOptions{})
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, err = e.svc.ResolveHierarchy(context.Background(), "/archive", ResolveOptions{})
	assert.ErrorIs(t, err, ErrRouteInactive)
	assert.Zero(t, e.reader.Calls("F2"))
}

func TestResolveMissThenHit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Stats.FromCache)
	assert.Equal(t, models.StatusFresh, res.Staleness)
	assert.Equal(t, 6, res.Stats.TotalItems)
	assert.Equal(t, 3, res.Stats.MaxDepth)
	assert.Nil(t, res.Route.Hierarchy)
	assert.Equal(t, 1, e.reader.Calls("F1"))

	e.clock = t0.Add(11 * time.Hour)
	res, err = e.svc.ResolveHierarchy(ctx, "marketing/", ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Stats.FromCache)
	assert.False(t, res.Stats.Stale)
	assert.Equal(t, int64(11*3600), res.Stats.CacheAgeSeconds)
	assert.Equal(t, 1, e.reader.Calls("F1"))
}

func TestResolveWarnTierRefreshesSilently(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)

	e.clock = t0.Add(13 * time.Hour)
	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Stats.FromCache)
	assert.Equal(t, models.StatusFresh, res.Staleness)
	assert.Equal(t, e.clock, res.Route.LastUpdated)
	assert.Equal(t, 2, e.reader.Calls("F1"))
}

func TestResolveWarnTierFallsBackToCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)

	e.reader.SetError("F1", drive.ErrUnavailable)
	e.clock = t0.Add(13 * time.Hour)
	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Stats.FromCache)
	assert.False(t, res.Stats.Stale)
	assert.Equal(t, models.StatusWarn, res.Staleness)
}

func TestResolveStaleServesCacheWithoutFetching(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)

	e.clock = t0.Add(25 * time.Hour)
	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, res.Stats.FromCache)
	assert.True(t, res.Stats.Stale)
	assert.Equal(t, models.StatusStale, res.Staleness)
	assert.Equal(t, 1, e.reader.Calls("F1"))
}

func TestResolveForceRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.reader.SetError("F1", drive.ErrRateLimited)
	_, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{ForceRefresh: true})
	require.Error(t, err)
	assert.Equal(t, syncer.KindRateLimited, syncer.KindOf(err))

	e.reader.SetError("F1", nil)
	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, res.Stats.FromCache)

	e.reader.SetError("F1", drive.ErrPermissionDenied)
	res, err = e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.True(t, res.Stats.FromCache)
	assert.True(t, res.Stats.Stale)
	assert.Equal(t, 6, res.Stats.TotalItems)
}

func TestResolveMissWithFailingDrive(t *testing.T) {
	e := newEnv(t)
	e.reader.SetError("F1", drive.ErrNotFound)

	_, err := e.svc.ResolveHierarchy(context.Background(), "/marketing", ResolveOptions{})
	assert.Equal(t, syncer.KindNotFound, syncer.KindOf(err))
}

func TestResolveMaxDepth(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.MaxDepth)
	assert.Equal(t, 3, res.Stats.TotalItems)

	full, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, full.Stats.MaxDepth)
}

func TestInvalidateAndStatuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	_, err = e.svc.SyncNow(ctx, "/marketing/eventos")
	require.NoError(t, err)

	statuses, err := e.svc.RouteStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	byRoute := map[string]RouteStatus{}
	for _, st := range statuses {
		byRoute[st.Route.Slug] = st
	}
	assert.Equal(t, models.StatusInactive, byRoute["/archive"].Staleness)
	assert.False(t, byRoute["/archive"].Cached)
	assert.True(t, byRoute["/marketing"].Cached)
	assert.Equal(t, models.StatusFresh, byRoute["/marketing"].Staleness)
	assert.Equal(t, syncer.StatusIdle, byRoute["/marketing"].Sync.State)
	assert.Equal(t, "/marketing", byRoute["/marketing"].Sync.Route)
	assert.False(t, byRoute["/marketing"].Sync.LastSyncedAt.IsZero())

	removed, err := e.svc.Invalidate(ctx, "/marketing", true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	statuses, err = e.svc.RouteStatuses(ctx)
	require.NoError(t, err)
	for _, st := range statuses {
		assert.False(t, st.Cached, st.Route.Slug)
	}

	// Routes survive invalidation; the next read rebuilds.
	res, err := e.svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, res.Stats.FromCache)
	assert.Equal(t, 2, e.reader.Calls("F1"))
}

type slowPuts struct {
	*cache.MemoryStore
	delay time.Duration
}

func (s slowPuts) Put(ctx context.Context, entry *models.CacheEntry) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Put(ctx, entry)
}

func TestResolveReportsBuildTimeOfCachedTree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	store := slowPuts{MemoryStore: e.cache, delay: 80 * time.Millisecond}
	registry := e.svc.Registry()
	coord := syncer.New(e.reader, registry, store, nil, syncer.Config{})
	svc := NewService(registry, store, cache.NewInvalidator(store, nil), coord)

	res, err := svc.ResolveHierarchy(ctx, "/marketing", ResolveOptions{})
	require.NoError(t, err)
	require.False(t, res.Stats.FromCache)

	entry, err := e.cache.Get(ctx, "/marketing")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, entry.Meta.BuildTimeMs, res.Stats.BuildTimeMs)
	assert.GreaterOrEqual(t, coord.Status("/marketing").LastDuration, 80*time.Millisecond)
	assert.Less(t, res.Stats.BuildTimeMs, int64(80), "cache write time is not build time")
}

func TestInvalidateAllAndCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.SyncNow(ctx, "/marketing")
	require.NoError(t, err)
	_, err = e.svc.SyncNow(ctx, "/marketing/eventos")
	require.NoError(t, err)

	e.clock = t0.Add(50 * time.Hour)
	removed, err := e.svc.CleanupExpired(ctx, 72)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = e.svc.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = e.svc.SyncNow(ctx, "/missing")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}
