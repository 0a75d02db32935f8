package drive

import (
	"context"
	"errors"
	"sync"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// MemoryReader serves listings from memory. It is used in tests and for
// seeding development servers.
type MemoryReader struct {
	mu      sync.Mutex
	folders map[string]memoryFolder
	errs    map[string]error
	calls   map[string]int
	hook    func(ctx context.Context, folderID string) error
}

type memoryFolder struct {
	name  string
	items []models.DriveItem
}

// NewMemoryReader creates an empty reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		folders: make(map[string]memoryFolder),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetFolder replaces the listing of folderID.
func (m *MemoryReader) SetFolder(folderID, name string, items []models.DriveItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[folderID] = memoryFolder{name: name, items: append([]models.DriveItem(nil), items...)}
}

// SetError makes every call for folderID fail with err. A nil err clears it.
func (m *MemoryReader) SetError(folderID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, folderID)
		return
	}
	m.errs[folderID] = err
}

// SetHook installs a function run at the start of every ListItems call;
// tests use it to block or slow down fetches. A non-nil return fails the call.
func (m *MemoryReader) SetHook(hook func(ctx context.Context, folderID string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Calls returns how many times ListItems ran for folderID.
func (m *MemoryReader) Calls(folderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[folderID]
}

// ListItems implements Reader.
func (m *MemoryReader) ListItems(ctx context.Context, folderID string) ([]models.DriveItem, error) {
	m.mu.Lock()
	m.calls[folderID]++
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, folderID); err != nil {
			return nil, wrap("list", folderID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "list", FolderID: folderID, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[folderID]; err != nil {
		return nil, wrap("list", folderID, err)
	}
	f, ok := m.folders[folderID]
	if !ok {
		return nil, &Error{Op: "list", FolderID: folderID, Err: ErrNotFound}
	}
	items := append([]models.DriveItem(nil), f.items...)
	if err := validateItems(folderID, items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetFolderInfo implements Reader.
func (m *MemoryReader) GetFolderInfo(_ context.Context, folderID string) (FolderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[folderID]; err != nil {
		return FolderInfo{}, wrap("info", folderID, err)
	}
	f, ok := m.folders[folderID]
	if !ok {
		return FolderInfo{}, &Error{Op: "info", FolderID: folderID, Err: ErrNotFound}
	}
	return FolderInfo{ID: folderID, Name: f.name}, nil
}

// wrap keeps a reader error that is already typed.
func wrap(op, folderID string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Op: op, FolderID: folderID, Err: err}
}
