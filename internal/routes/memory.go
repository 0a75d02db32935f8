package routes

import (
	"context"
	"sort"
	"sync"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// MemoryStore keeps routes in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]*models.RouteConfig
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routes: make(map[string]*models.RouteConfig)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*models.RouteConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes[key].Clone(), nil
}

// List implements Store. Routes are ordered by slug.
func (s *MemoryStore) List(_ context.Context) ([]*models.RouteConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RouteConfig, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, route *models.RouteConfig) error {
	cp := route.Clone()
	cp.Hierarchy = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[cp.Slug] = cp
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, key)
	return nil
}
