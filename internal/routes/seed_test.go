package routes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivecms/pkg/models"
)

const seedYAML = `
routes:
  - slug: /marketing
    folder_ids: [F1, F2]
    title: Marketing
    settings:
      theme: dark
      columns: 3
  - slug: marketing/eventos/
    folder_ids: [F3]
  - slug: /archive
    folder_ids: [F4]
    active: false
`

func TestParseSeed(t *testing.T) {
	list, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, []string{"F1", "F2"}, list[0].FolderIDs)
	assert.Equal(t, "dark", list[0].CustomSettings["theme"])
	assert.Equal(t, 3, list[0].CustomSettings["columns"])
	assert.True(t, list[1].IsActive)
	assert.False(t, list[2].IsActive)
}

func TestParseSeedErrors(t *testing.T) {
	tests := map[string]string{
		"no folders":    "routes:\n  - slug: /a\n",
		"bad slug":      "routes:\n  - slug: /a b\n    folder_ids: [F]\n",
		"duplicate":     "routes:\n  - slug: /a\n    folder_ids: [F]\n  - slug: a/\n    folder_ids: [G]\n",
		"unknown field": "routes:\n  - slug: /a\n    folders: [F]\n",
		"not yaml":      "routes: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}

	list, err := ParseSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSeedKeepsSyncState(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemoryStore())
	existing, err := reg.Upsert(ctx, &models.RouteConfig{Slug: "/marketing", FolderIDs: []string{"OLD"}, IsActive: true})
	require.NoError(t, err)
	synced := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = reg.MarkSynced(ctx, existing, synced)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))
	list, err := LoadSeedFile(path)
	require.NoError(t, err)

	n, err := reg.Seed(ctx, list)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := reg.Get(ctx, "/marketing")
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F2"}, got.FolderIDs)
	assert.Equal(t, synced, got.LastUpdated)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
