package drive

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/retry"
)

// ResilientReader retries transient failures of another reader with
// exponential backoff and records fetch metrics.
type ResilientReader struct {
	next  Reader
	retry retry.Config
}

// NewResilientReader wraps next. A zero cfg uses retry.DefaultConfig.
func NewResilientReader(next Reader, cfg retry.Config) *ResilientReader {
	if cfg.MaxAttempts == 0 && cfg.InitialWait == 0 {
		cfg = retry.DefaultConfig()
	}
	cfg.ShouldRetry = Transient
	return &ResilientReader{next: next, retry: cfg}
}

// ListItems implements Reader.
func (r *ResilientReader) ListItems(ctx context.Context, folderID string) ([]models.DriveItem, error) {
	items, err := retry.DoWithResult(ctx, r.config(ctx, "list", folderID), func() ([]models.DriveItem, error) {
		start := time.Now()
		items, err := r.next.ListItems(ctx, folderID)
		metrics.RecordDriveFetch(fetchResult(err), time.Since(start))
		return items, err
	})
	if err != nil {
		return nil, normalizeContextError("list", folderID, err)
	}
	return items, nil
}

// GetFolderInfo implements Reader.
func (r *ResilientReader) GetFolderInfo(ctx context.Context, folderID string) (FolderInfo, error) {
	info, err := retry.DoWithResult(ctx, r.config(ctx, "info", folderID), func() (FolderInfo, error) {
		return r.next.GetFolderInfo(ctx, folderID)
	})
	if err != nil {
		return FolderInfo{}, normalizeContextError("info", folderID, err)
	}
	return info, nil
}

func (r *ResilientReader) config(ctx context.Context, op, folderID string) retry.Config {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logging.WithContext(ctx).Warn("drive call failed, will retry",
			zap.String("op", op),
			zap.String("folder_id", folderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return cfg
}

// normalizeContextError turns a bare deadline from the retry loop into a
// typed timeout.
func normalizeContextError(op, folderID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return &Error{Op: op, FolderID: folderID, Err: errors.Join(ErrTimeout, err)}
	}
	return err
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
