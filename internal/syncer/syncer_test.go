package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/tree"
)

type fixture struct {
	reader   *drive.MemoryReader
	registry *routes.Registry
	cache    *cache.MemoryStore
	events   *events.Broadcaster
	coord    *Coordinator
	route    *models.RouteConfig
}

func newFixture(t *testing.T, cfg Config, folderIDs ...string) *fixture {
	t.Helper()
	if len(folderIDs) == 0 {
		folderIDs = []string{"F1"}
	}
	f := &fixture{
		reader:   drive.NewMemoryReader(),
		registry: routes.NewRegistry(routes.NewMemoryStore()),
		cache:    cache.NewMemoryStore(),
		events:   events.NewBroadcaster(),
	}
	for _, id := range folderIDs {
		f.reader.SetFolder(id, "Campaign "+id, []models.DriveItem{
			{ID: id + "-hero", Name: "01_Image_Hero_dark.jpg", MimeType: "image/jpeg", DriveType: models.DriveFile, PathSegments: []string{"2024", "Q1"}},
			{ID: id + "-brief", Name: "brief.pdf", MimeType: "application/pdf", DriveType: models.DriveFile},
		})
	}
	route, err := f.registry.Upsert(context.Background(), &models.RouteConfig{
		Slug:      "/marketing",
		FolderIDs: folderIDs,
		Title:     "Marketing",
		IsActive:  true,
	})
	require.NoError(t, err)
	f.route = route
	f.coord = New(f.reader, f.registry, f.cache, f.events, cfg)
	return f
}

// block makes ListItems wait until the returned release func is called.
func (f *fixture) block() (release func()) {
	gate := make(chan struct{})
	f.reader.SetHook(func(ctx context.Context, _ string) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fixture) waiters() int {
	f.coord.mu.Lock()
	defer f.coord.mu.Unlock()
	if cl, ok := f.coord.inflight[flightKey(f.route)]; ok {
		return cl.waiters
	}
	return -1
}

func TestSyncBuildsAndPersists(t *testing.T) {
	f := newFixture(t, Config{})
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.coord.SetClock(func() time.Time { return at })

	updated, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.NoError(t, err)
	require.NotNil(t, updated.Hierarchy)
	assert.Equal(t, at, updated.LastUpdated)

	hero := tree.FindByID(updated.Hierarchy, "F1-hero")
	require.NotNil(t, hero)
	assert.Equal(t, "Hero", hero.Name)
	assert.True(t, hero.ThemeDark)
	assert.Equal(t, 3, hero.Depth)

	entry, err := f.cache.Get(context.Background(), "/marketing")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, at, entry.BuiltAt)
	assert.Equal(t, tree.CountNodes(updated.Hierarchy), entry.Meta.TotalItems)
	assert.Equal(t, 3, entry.Meta.MaxDepth)
	assert.Equal(t, []string{"F1"}, entry.Meta.FolderIDs)

	stored, err := f.registry.Get(context.Background(), "/marketing")
	require.NoError(t, err)
	assert.Equal(t, at, stored.LastUpdated)
	assert.Nil(t, stored.Hierarchy)

	st := f.coord.Status(f.route.Slug)
	assert.Equal(t, StatusIdle, st.State)
	assert.Equal(t, at, st.LastSyncedAt)
	assert.Empty(t, st.LastError)
}

func TestConcurrentSyncsShareOneFetch(t *testing.T) {
	f := newFixture(t, Config{})
	release := f.block()
	defer release()

	const callers = 5
	results := make([]*models.RouteConfig, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.coord.Sync(context.Background(), f.route, ModeExplicit)
		}()
	}

	require.Eventually(t, func() bool { return f.waiters() == callers-1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.coord.InFlight(f.route.Slug))
	assert.Equal(t, StatusSyncing, f.coord.Status(f.route.Slug).State)
	release()
	wg.Wait()

	assert.Equal(t, 1, f.reader.Calls("F1"))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].LastUpdated, results[i].LastUpdated)
		assert.Same(t, results[0].Hierarchy, results[i].Hierarchy)
	}
	assert.False(t, f.coord.InFlight(f.route.Slug))
}

func TestRejectInFlight(t *testing.T) {
	f := newFixture(t, Config{Policy: RejectInFlight})
	release := f.block()
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.coord.InFlight(f.route.Slug) }, 2*time.Second, 5*time.Millisecond)

	_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	assert.ErrorIs(t, err, &SyncError{Kind: KindAlreadySyncing})

	route, err := f.coord.Sync(context.Background(), f.route, ModeSilent)
	require.NoError(t, err)
	assert.Equal(t, f.route.LastUpdated, route.LastUpdated)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.reader.Calls("F1"))
}

func TestSilentAndExplicitFailures(t *testing.T) {
	f := newFixture(t, Config{})
	f.reader.SetError("F1", drive.ErrPermissionDenied)

	route, err := f.coord.Sync(context.Background(), f.route, ModeSilent)
	require.NoError(t, err)
	assert.Same(t, f.route, route)
	assert.True(t, route.LastUpdated.IsZero())

	_, err = f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.Error(t, err)
	assert.Equal(t, KindPermissionDenied, KindOf(err))
	assert.ErrorIs(t, err, drive.ErrPermissionDenied)

	entry, _ := f.cache.Get(context.Background(), "/marketing")
	assert.Nil(t, entry)
	stored, _ := f.registry.Get(context.Background(), "/marketing")
	assert.True(t, stored.LastUpdated.IsZero())

	st := f.coord.Status(f.route.Slug)
	assert.Equal(t, KindPermissionDenied, st.LastKind)
	assert.NotEmpty(t, st.LastError)
}

func TestSyncTimeout(t *testing.T) {
	f := newFixture(t, Config{Timeout: 30 * time.Millisecond})
	release := f.block()
	defer release()

	_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	entry, _ := f.cache.Get(context.Background(), "/marketing")
	assert.Nil(t, entry)
}

func TestCallerCancellationDoesNotAbortSharedRun(t *testing.T) {
	f := newFixture(t, Config{})
	release := f.block()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Sync(ctx, f.route, ModeExplicit)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.coord.InFlight(f.route.Slug) }, 2*time.Second, 5*time.Millisecond)
	cancel()
	err := <-done
	assert.Equal(t, KindUnavailable, KindOf(err))

	release()
	require.Eventually(t, func() bool { return !f.coord.InFlight(f.route.Slug) }, 2*time.Second, 5*time.Millisecond)
	entry, _ := f.cache.Get(context.Background(), "/marketing")
	assert.NotNil(t, entry)
}

func TestMultiFolderMerge(t *testing.T) {
	f := newFixture(t, Config{}, "F1", "F2")

	updated, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.NoError(t, err)

	root := updated.Hierarchy
	assert.Equal(t, f.route.ID, root.ID)
	assert.Equal(t, "Marketing", root.Name)
	require.Len(t, root.Children, 2)
	assert.Equal(t, 1, root.Children[0].Depth)
	assert.NotNil(t, tree.FindByID(root, "F1-hero"))
	assert.NotNil(t, tree.FindByID(root, "F2-hero"))
	assert.Equal(t, 4, tree.MaxDepth(root))
	require.NoError(t, tree.Validate(root))
}

func TestMultiFolderFailureIsAtomic(t *testing.T) {
	f := newFixture(t, Config{}, "F1", "F2")
	f.reader.SetError("F2", drive.ErrNotFound)

	_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	entry, _ := f.cache.Get(context.Background(), "/marketing")
	assert.Nil(t, entry)
	stored, _ := f.registry.Get(context.Background(), "/marketing")
	assert.True(t, stored.LastUpdated.IsZero())
}

type brokenCache struct{ *cache.MemoryStore }

func (brokenCache) Put(context.Context, *models.CacheEntry) error {
	return errors.New("disk full")
}

func TestCacheWriteFailure(t *testing.T) {
	f := newFixture(t, Config{})
	coord := New(f.reader, f.registry, brokenCache{cache.NewMemoryStore()}, nil, Config{})

	_, err := coord.Sync(context.Background(), f.route, ModeExplicit)
	require.Error(t, err)
	assert.Equal(t, KindCacheWrite, KindOf(err))

	stored, _ := f.registry.Get(context.Background(), "/marketing")
	assert.True(t, stored.LastUpdated.IsZero())
}

func TestSimilarSlugsSyncIndependently(t *testing.T) {
	ctx := context.Background()
	reader := drive.NewMemoryReader()
	reader.SetFolder("FA", "Nested", nil)
	reader.SetFolder("FB", "Dashed", nil)
	registry := routes.NewRegistry(routes.NewMemoryStore())
	store := cache.NewMemoryStore()

	nested, err := registry.Upsert(ctx, &models.RouteConfig{Slug: "/a/b", FolderIDs: []string{"FA"}, IsActive: true})
	require.NoError(t, err)
	dashed, err := registry.Upsert(ctx, &models.RouteConfig{Slug: "/a-b", FolderIDs: []string{"FB"}, IsActive: true})
	require.NoError(t, err)
	require.NotEqual(t, nested.ID, dashed.ID)

	gate := make(chan struct{})
	reader.SetHook(func(ctx context.Context, folderID string) error {
		if folderID != "FA" {
			return nil
		}
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	coord := New(reader, registry, store, nil, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := coord.Sync(ctx, nested, ModeExplicit)
		done <- err
	}()
	require.Eventually(t, func() bool { return coord.InFlight("/a/b") }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, coord.InFlight("/a-b"))

	got, err := coord.Sync(ctx, dashed, ModeExplicit)
	require.NoError(t, err)
	assert.Equal(t, "/a-b", got.Slug)
	assert.Equal(t, "FB", got.Hierarchy.ID)
	entry, err := store.Get(ctx, "/a-b")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "FB", entry.Tree.ID)
	assert.Equal(t, StatusSyncing, coord.Status("/a/b").State)
	assert.Equal(t, StatusIdle, coord.Status("/a-b").State)

	close(gate)
	require.NoError(t, <-done)
	entry, err = store.Get(ctx, "/a/b")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "FA", entry.Tree.ID)
}

func TestRouteDeletedDuringSyncLeavesNoCache(t *testing.T) {
	f := newFixture(t, Config{})
	f.reader.SetHook(func(ctx context.Context, _ string) error {
		return f.registry.Delete(ctx, "/marketing")
	})

	_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	entry, err := f.cache.Get(context.Background(), "/marketing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

// failingSaves fails every route save once broken is set.
type failingSaves struct {
	routes.Store
	broken atomic.Bool
}

func (s *failingSaves) Save(ctx context.Context, route *models.RouteConfig) error {
	if s.broken.Load() {
		return errors.New("database is locked")
	}
	return s.Store.Save(ctx, route)
}

func TestRouteStampFailureRestoresCache(t *testing.T) {
	ctx := context.Background()
	reader := drive.NewMemoryReader()
	reader.SetFolder("F1", "Campaign", []models.DriveItem{
		{ID: "brief", Name: "brief.pdf", MimeType: "application/pdf", DriveType: models.DriveFile},
	})
	store := &failingSaves{Store: routes.NewMemoryStore()}
	registry := routes.NewRegistry(store)
	mem := cache.NewMemoryStore()
	route, err := registry.Upsert(ctx, &models.RouteConfig{Slug: "/docs", FolderIDs: []string{"F1"}, IsActive: true})
	require.NoError(t, err)

	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := first
	coord := New(reader, registry, mem, nil, Config{})
	coord.SetClock(func() time.Time { return clock })

	// No previous entry: the new one is removed again.
	store.broken.Store(true)
	_, err = coord.Sync(ctx, route, ModeExplicit)
	require.Error(t, err)
	entry, err := mem.Get(ctx, "/docs")
	require.NoError(t, err)
	assert.Nil(t, entry)

	store.broken.Store(false)
	_, err = coord.Sync(ctx, route, ModeExplicit)
	require.NoError(t, err)

	// A previous entry: it is put back unchanged.
	store.broken.Store(true)
	clock = first.Add(time.Hour)
	reader.SetFolder("F1", "Campaign", nil)
	_, err = coord.Sync(ctx, route, ModeExplicit)
	require.Error(t, err)

	entry, err = mem.Get(ctx, "/docs")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, first, entry.BuiltAt)
	assert.NotNil(t, tree.FindByID(entry.Tree, "brief"))

	stored, err := registry.Get(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, first, stored.LastUpdated)
}

func TestSyncResultCarriesCacheMeta(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.coord.SyncResult(context.Background(), f.route, ModeExplicit)
	require.NoError(t, err)
	entry, err := f.cache.Get(context.Background(), "/marketing")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, entry.Meta, res.Meta)
	assert.Equal(t, tree.CountNodes(res.Route.Hierarchy), res.Meta.TotalItems)
}

func TestSyncRejectsInvalidRoute(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.coord.Sync(context.Background(), &models.RouteConfig{ID: "x", Slug: "/x"}, ModeExplicit)
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = f.coord.Sync(context.Background(), nil, ModeExplicit)
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestSyncPublishesEvents(t *testing.T) {
	f := newFixture(t, Config{})
	ch := f.events.Subscribe()
	defer f.events.Unsubscribe(ch)

	_, err := f.coord.Sync(context.Background(), f.route, ModeExplicit)
	require.NoError(t, err)

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("received only %v", got)
		}
	}
	assert.Equal(t, []string{events.EventSyncStarted, events.EventSyncCompleted}, got)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, RejectInFlight, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, JoinInFlight, p)

	_, err = ParsePolicy("queue")
	assert.Error(t, err)
}
