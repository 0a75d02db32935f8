package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/internal/routes"
)

// Kind classifies a failed sync.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
	KindUnavailable      Kind = "unavailable"
	KindTimeout          Kind = "timeout"
	KindAlreadySyncing   Kind = "already_syncing"
	KindCacheWrite       Kind = "cache_write"
	KindConfiguration    Kind = "configuration"
	KindInternal         Kind = "internal"
)

// SyncError is returned by explicit syncs.
type SyncError struct {
	Kind  Kind
	Route string
	Err   error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync %s: %s", e.Route, e.Kind)
	}
	return fmt.Sprintf("sync %s: %s: %v", e.Route, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches another SyncError of the same kind, so callers can test with
// errors.Is(err, &SyncError{Kind: KindTimeout}).
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of a sync error, or "" when err is not one.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// classify maps a fetch, build or persist failure to a kind.
func classify(err error) Kind {
	var verr *routes.ValidationError
	switch {
	case errors.As(err, &verr):
		return KindConfiguration
	case errors.Is(err, drive.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, drive.ErrNotFound), errors.Is(err, routes.ErrNotFound):
		return KindNotFound
	case errors.Is(err, drive.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, drive.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, cache.ErrWrite):
		return KindCacheWrite
	case errors.Is(err, drive.ErrUnavailable), errors.Is(err, context.Canceled):
		return KindUnavailable
	default:
		return KindInternal
	}
}
