package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// MemoryStore keeps cache entries in a map. Trees are shared, never copied;
// they are immutable once built.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.CacheEntry)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Tree == nil {
		return errors.New("cache entry without tree")
	}
	cp := *entry
	cp.Meta.FolderIDs = append([]string(nil), entry.Meta.FolderIDs...)
	m.mu.Lock()
	m.entries[cp.Key] = &cp
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return 0, nil
	}
	delete(m.entries, key)
	return 1, nil
}

// DeleteByPrefix implements Store.
func (m *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	return m.deleteWhere(func(key string, _ *models.CacheEntry) bool {
		return strings.HasPrefix(key, prefix)
	}), nil
}

// DeleteAll implements Store.
func (m *MemoryStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]*models.CacheEntry)
	return n, nil
}

// DeleteOlderThan implements Store.
func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	return m.deleteWhere(func(_ string, e *models.CacheEntry) bool {
		return e.BuiltAt.Before(cutoff)
	}), nil
}

// List implements Store. Entries are ordered by key.
func (m *MemoryStore) List(_ context.Context) ([]EntryInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EntryInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, EntryInfo{Key: e.Key, BuiltAt: e.BuiltAt, Meta: e.Meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) deleteWhere(match func(string, *models.CacheEntry) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.entries {
		if match(key, e) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}
