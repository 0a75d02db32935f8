package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
)

// InvalidateOptions controls the scope of a route invalidation.
type InvalidateOptions struct {
	IncludeDescendants bool
}

// Invalidator removes cached trees by route, wholesale, or by age. Route
// configurations are never touched.
type Invalidator struct {
	store  Store
	events events.Publisher
	now    func() time.Time
}

// NewInvalidator creates an invalidator over store. A nil publisher
// discards events.
func NewInvalidator(store Store, pub events.Publisher) *Invalidator {
	if pub == nil {
		pub = events.Discard
	}
	return &Invalidator{store: store, events: pub, now: time.Now}
}

// InvalidateRoute deletes the entry for routeKey and, when requested, every
// entry below it. Descendants are matched on whole segments, so
// "/marketingx" survives an invalidation of "/marketing".
func (inv *Invalidator) InvalidateRoute(ctx context.Context, routeKey string, opts InvalidateOptions) (int, error) {
	key := routes.NormalizeKey(routeKey)

	removed, err := inv.store.Delete(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", key, err)
	}
	if opts.IncludeDescendants {
		prefix := key + "/"
		if key == "/" {
			prefix = "/"
		}
		n, err := inv.store.DeleteByPrefix(ctx, prefix)
		if err != nil {
			return removed, fmt.Errorf("invalidate descendants of %s: %w", key, err)
		}
		removed += n
	}

	metrics.RecordCacheInvalidated("route", removed)
	logging.WithContext(ctx).Info("cache invalidated",
		zap.String("route", key),
		zap.Bool("descendants", opts.IncludeDescendants),
		zap.Int("removed", removed))
	inv.events.Publish(events.Event{Type: events.EventCacheInvalidated, Route: key, Removed: removed})
	return removed, nil
}

// InvalidateAll deletes every cache entry.
func (inv *Invalidator) InvalidateAll(ctx context.Context) (int, error) {
	removed, err := inv.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidate all: %w", err)
	}
	metrics.RecordCacheInvalidated("all", removed)
	logging.WithContext(ctx).Info("cache cleared", zap.Int("removed", removed))
	inv.events.Publish(events.Event{Type: events.EventCacheInvalidated, Removed: removed})
	return removed, nil
}

// CleanupExpired deletes entries built more than maxAgeHours ago. It is a
// TTL sweep and ignores route staleness tiers.
func (inv *Invalidator) CleanupExpired(ctx context.Context, maxAgeHours int) (int, error) {
	if maxAgeHours <= 0 {
		return 0, fmt.Errorf("cleanup: max age must be positive, got %d", maxAgeHours)
	}
	cutoff := inv.now().Add(-time.Duration(maxAgeHours) * time.Hour)
	removed, err := inv.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	metrics.RecordCacheInvalidated("expired", removed)
	if removed > 0 {
		logging.WithContext(ctx).Info("expired cache entries removed",
			zap.Int("removed", removed),
			zap.Int("max_age_hours", maxAgeHours))
		inv.events.Publish(events.Event{Type: events.EventCacheInvalidated, Removed: removed})
	}
	return removed, nil
}

// SetClock replaces the invalidator clock.
func (inv *Invalidator) SetClock(now func() time.Time) {
	inv.now = now
}
