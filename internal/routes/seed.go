package routes

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/pkg/models"
)

type seedFile struct {
	Routes []seedRoute `yaml:"routes"`
}

type seedRoute struct {
	Slug        string         `yaml:"slug"`
	FolderIDs   []string       `yaml:"folder_ids"`
	Title       string         `yaml:"title"`
	Subtitle    string         `yaml:"subtitle"`
	Description string         `yaml:"description"`
	Active      *bool          `yaml:"active"`
	Settings    map[string]any `yaml:"settings"`
}

// ParseSeed reads a YAML route list:
//
//	routes:
//	  - slug: /marketing
//	    folder_ids: [1AbC, 2DeF]
//	    title: Marketing
//	    settings: {theme: dark}
//
// Routes are active unless "active: false" is given. Every route is
// validated before any is returned.
func ParseSeed(r io.Reader) ([]*models.RouteConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	out := make([]*models.RouteConfig, 0, len(f.Routes))
	seen := make(map[string]bool, len(f.Routes))
	for i, sr := range f.Routes {
		route := &models.RouteConfig{
			Slug:           sr.Slug,
			FolderIDs:      sr.FolderIDs,
			Title:          sr.Title,
			Subtitle:       sr.Subtitle,
			Description:    sr.Description,
			IsActive:       sr.Active == nil || *sr.Active,
			CustomSettings: sr.Settings,
		}
		if err := Validate(route); err != nil {
			return nil, fmt.Errorf("route %d (%q): %w", i+1, sr.Slug, err)
		}
		key := NormalizeKey(sr.Slug)
		if seen[key] {
			return nil, fmt.Errorf("route %d: duplicate slug %s", i+1, key)
		}
		seen[key] = true
		out = append(out, route)
	}
	return out, nil
}

// LoadSeedFile parses the YAML route list at path.
func LoadSeedFile(path string) ([]*models.RouteConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// Seed upserts every route. Sync state of existing routes is kept.
func (r *Registry) Seed(ctx context.Context, list []*models.RouteConfig) (int, error) {
	for i, route := range list {
		if _, err := r.Upsert(ctx, route); err != nil {
			return i, fmt.Errorf("seed %s: %w", route.Slug, err)
		}
	}
	logging.Info("routes seeded", zap.Int("count", len(list)))
	return len(list), nil
}
