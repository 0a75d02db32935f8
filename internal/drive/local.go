package drive

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/drivecms/pkg/content"
	"github.com/fruitsalade/drivecms/pkg/models"
)

// LocalConfig holds local mirror settings.
type LocalConfig struct {
	RootPath string `json:"root_path"`
}

// LocalReader lists a local mirror of a shared drive, such as an rclone
// mount. Folder ids are slash-separated paths relative to the mirror root.
type LocalReader struct {
	rootPath string
}

// NewLocalReader creates a reader over cfg.RootPath.
func NewLocalReader(cfg LocalConfig) (*LocalReader, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}
	return &LocalReader{rootPath: cfg.RootPath}, nil
}

func (r *LocalReader) fullPath(folderID string) (string, error) {
	if strings.Contains(folderID, "..") {
		return "", ErrNotFound
	}
	return filepath.Join(r.rootPath, filepath.Clean("/"+filepath.FromSlash(folderID))), nil
}

// ListItems implements Reader.
func (r *LocalReader) ListItems(ctx context.Context, folderID string) ([]models.DriveItem, error) {
	base, err := r.fullPath(folderID)
	if err != nil {
		return nil, &Error{Op: "list", FolderID: folderID, Err: err}
	}
	if _, err := os.Stat(base); err != nil {
		return nil, &Error{Op: "list", FolderID: folderID, Err: classifyOSError(err)}
	}

	var items []models.DriveItem
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == base || strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() && path != base {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")
		item := models.DriveItem{
			ID:           localID(folderID, rel),
			Name:         d.Name(),
			PathSegments: segments[:len(segments)-1],
		}
		if d.IsDir() {
			item.DriveType = models.DriveFolder
			item.MimeType = content.FolderMimeType
		} else {
			item.DriveType = models.DriveFile
			item.MimeType = mime.TypeByExtension(filepath.Ext(d.Name()))
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list", FolderID: folderID, Err: classifyOSError(err)}
	}
	return items, nil
}

// GetFolderInfo implements Reader.
func (r *LocalReader) GetFolderInfo(_ context.Context, folderID string) (FolderInfo, error) {
	full, err := r.fullPath(folderID)
	if err != nil {
		return FolderInfo{}, &Error{Op: "info", FolderID: folderID, Err: err}
	}
	info, err := os.Stat(full)
	if err != nil {
		return FolderInfo{}, &Error{Op: "info", FolderID: folderID, Err: classifyOSError(err)}
	}
	if !info.IsDir() {
		return FolderInfo{}, &Error{Op: "info", FolderID: folderID, Err: ErrNotFound}
	}
	name := info.Name()
	if full == filepath.Clean(r.rootPath) {
		name = filepath.Base(r.rootPath)
	}
	return FolderInfo{ID: folderID, Name: name}, nil
}

func localID(folderID, rel string) string {
	h := sha256.Sum256([]byte(folderID + "\x00" + rel))
	return fmt.Sprintf("%x", h[:8])
}

func classifyOSError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
