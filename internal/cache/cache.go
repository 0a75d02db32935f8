// Package cache stores built hierarchy trees keyed by route and removes them
// on invalidation or expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// ErrWrite wraps failures to persist a cache entry.
var ErrWrite = errors.New("cache write failed")

// Store persists cache entries. Keys are normalized route slugs. Each call
// is all-or-nothing per key; concurrent puts are last-writer-wins.
type Store interface {
	// Get returns nil, nil when the key is not cached.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) (int, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	List(ctx context.Context) ([]EntryInfo, error)
}

// EntryInfo describes a cache entry without its tree.
type EntryInfo struct {
	Key     string           `json:"key"`
	BuiltAt time.Time        `json:"built_at"`
	Meta    models.CacheMeta `json:"meta"`
}

// Age returns how old an entry is at now.
func Age(entry *models.CacheEntry, now time.Time) time.Duration {
	if entry == nil {
		return 0
	}
	return now.Sub(entry.BuiltAt)
}

// WriteError marks err as a cache write failure.
func WriteError(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWrite, key, err)
}
