package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/pkg/models"
)

func entry(key string, builtAt time.Time) *models.CacheEntry {
	return &models.CacheEntry{
		Key:     key,
		Tree:    &models.HierarchyNode{ID: "root-" + key, Name: key, Children: []*models.HierarchyNode{}},
		BuiltAt: builtAt,
		Meta:    models.CacheMeta{TotalItems: 1},
	}
}

func seed(t *testing.T, store Store, now time.Time, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, store.Put(context.Background(), entry(k, now)))
	}
}

func keys(t *testing.T, store Store) []string {
	t.Helper()
	list, err := store.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Key)
	}
	return out
}

func TestMemoryStoreGetPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, err := store.Get(ctx, "/marketing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	require.NoError(t, store.Put(ctx, entry("/marketing", now)))
	got, err = store.Get(ctx, "/marketing")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "root-/marketing", got.Tree.ID)

	newer := entry("/marketing", now.Add(time.Minute))
	newer.Tree.ID = "rebuilt"
	require.NoError(t, store.Put(ctx, newer))
	got, _ = store.Get(ctx, "/marketing")
	assert.Equal(t, "rebuilt", got.Tree.ID)

	assert.Error(t, store.Put(ctx, &models.CacheEntry{Key: "/x"}))
}

func TestInvalidateRouteWithDescendants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seed(t, store, time.Now(), "/marketing", "/marketing/eventos", "/marketing/eventos/2024", "/marketingx", "/academy")

	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	inv := NewInvalidator(store, b)
	removed, err := inv.InvalidateRoute(ctx, "/marketing/", InvalidateOptions{IncludeDescendants: true})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{"/academy", "/marketingx"}, keys(t, store))

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventCacheInvalidated, ev.Type)
		assert.Equal(t, "/marketing", ev.Route)
		assert.Equal(t, 3, ev.Removed)
	case <-time.After(time.Second):
		t.Fatal("no invalidation event")
	}
}

func TestInvalidateRouteOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seed(t, store, time.Now(), "/marketing", "/marketing/eventos")

	inv := NewInvalidator(store, nil)
	removed, err := inv.InvalidateRoute(ctx, "/marketing", InvalidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"/marketing/eventos"}, keys(t, store))

	removed, err = inv.InvalidateRoute(ctx, "/unknown", InvalidateOptions{IncludeDescendants: true})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInvalidateRootWithDescendants(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, time.Now(), "/", "/a", "/b/c")

	removed, err := NewInvalidator(store, nil).InvalidateRoute(context.Background(), "/", InvalidateOptions{IncludeDescendants: true})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, keys(t, store))
}

func TestInvalidateAll(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, time.Now(), "/a", "/b", "/c")

	removed, err := NewInvalidator(store, nil).InvalidateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, keys(t, store))
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), entry("/old", now.Add(-49*time.Hour))))
	require.NoError(t, store.Put(context.Background(), entry("/warn-tier", now.Add(-13*time.Hour))))
	require.NoError(t, store.Put(context.Background(), entry("/fresh", now.Add(-time.Hour))))

	inv := NewInvalidator(store, nil)
	inv.SetClock(func() time.Time { return now })

	removed, err := inv.CleanupExpired(context.Background(), 48)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"/fresh", "/warn-tier"}, keys(t, store))

	removed, err = inv.CleanupExpired(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"/fresh"}, keys(t, store))

	_, err = inv.CleanupExpired(context.Background(), 0)
	assert.Error(t, err)
}

type failingStore struct{ *MemoryStore }

func (failingStore) DeleteByPrefix(context.Context, string) (int, error) {
	return 0, errors.New("backend down")
}

func TestInvalidateRouteReportsPartialFailure(t *testing.T) {
	store := failingStore{NewMemoryStore()}
	seed(t, store, time.Now(), "/a", "/a/b")

	removed, err := NewInvalidator(store, nil).InvalidateRoute(context.Background(), "/a", InvalidateOptions{IncludeDescendants: true})
	require.Error(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"/a/b"}, keys(t, store))
}

func TestWriteError(t *testing.T) {
	cause := errors.New("disk full")
	err := WriteError("/a", cause)
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, cause)
}

func TestAge(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Hour, Age(entry("/a", now.Add(-time.Hour)), now))
	assert.Zero(t, Age(nil, now))
}
