// Package drive defines the Drive listing capability consumed by the sync
// coordinator, plus in-memory, local-mirror and retrying implementations.
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// Failure classes reported by readers. Implementations wrap one of these so
// callers can use errors.Is.
var (
	ErrNotFound         = errors.New("drive: not found")
	ErrPermissionDenied = errors.New("drive: permission denied")
	ErrRateLimited      = errors.New("drive: rate limited")
	ErrUnavailable      = errors.New("drive: unavailable")
	ErrTimeout          = errors.New("drive: timeout")
)

// FolderInfo describes a listed root folder.
type FolderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Reader lists the contents of Drive folders.
type Reader interface {
	// ListItems returns every file and folder below folderID, each with its
	// path segments relative to folderID.
	ListItems(ctx context.Context, folderID string) ([]models.DriveItem, error)
	// GetFolderInfo returns the folder's own metadata.
	GetFolderInfo(ctx context.Context, folderID string) (FolderInfo, error)
}

// Error is a failed Drive call. Wait carries the Retry-After hint of a
// rate-limited response, if any.
type Error struct {
	Op       string
	FolderID string
	Err      error
	Wait     time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("drive %s %s: %v", e.Op, e.FolderID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryAfter implements retry.RetryAfterer.
func (e *Error) RetryAfter() time.Duration {
	return e.Wait
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// validateItems rejects listings that would break the builder's contract.
func validateItems(folderID string, items []models.DriveItem) error {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return &Error{Op: "list", FolderID: folderID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
	}
	return nil
}
