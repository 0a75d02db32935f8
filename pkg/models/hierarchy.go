// Package models contains the data types shared by the hierarchy engine,
// its stores and the HTTP API.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DriveType distinguishes folders from files.
type DriveType string

const (
	DriveFolder DriveType = "folder"
	DriveFile   DriveType = "file"
)

// DefaultOrder is assigned to names without an order prefix.
const DefaultOrder = 999

// DriveItem is a single file or folder as listed by a drive reader.
// PathSegments holds the raw folder names from the listed root down to the
// item's parent.
type DriveItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	DriveType    DriveType `json:"drive_type"`
	PathSegments []string  `json:"path_segments"`
}

// IsFolder reports whether the item is a folder.
func (d DriveItem) IsFolder() bool {
	return d.DriveType == DriveFolder
}

// Validate checks the fields a reader must always populate.
func (d DriveItem) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("drive item: missing id")
	}
	switch d.DriveType {
	case DriveFile, DriveFolder:
	default:
		return fmt.Errorf("drive item %s: unknown drive type %q", d.ID, d.DriveType)
	}
	return nil
}

// ParsedName is the result of applying the naming conventions to a raw name.
type ParsedName struct {
	DisplayName  string  `json:"display_name"`
	Order        int     `json:"order"`
	SemanticType *string `json:"semantic_type"`
	Hidden       bool    `json:"hidden"`
	NoTitle      bool    `json:"no_title"`
	ThemeDark    bool    `json:"theme_dark"`
}

// HierarchyNode is a folder or file in a built hierarchy.
type HierarchyNode struct {
	ID           string           `json:"id"`
	DriveID      string           `json:"drive_id,omitempty"`
	Name         string           `json:"name"`
	RawName      string           `json:"raw_name"`
	Path         string           `json:"path"`
	DriveType    DriveType        `json:"drive_type"`
	MimeType     string           `json:"mime_type,omitempty"`
	ContentType  string           `json:"content_type,omitempty"`
	SemanticType *string          `json:"semantic_type"`
	Order        int              `json:"order"`
	Depth        int              `json:"depth"`
	Hidden       bool             `json:"hidden,omitempty"`
	NoTitle      bool             `json:"no_title,omitempty"`
	ThemeDark    bool             `json:"theme_dark,omitempty"`
	Children     []*HierarchyNode `json:"children"`
}

// IsFolder reports whether the node is a folder.
func (n *HierarchyNode) IsFolder() bool {
	return n.DriveType == DriveFolder
}

// MarshalJSON keeps children an array even when a decoded node lost it.
func (n *HierarchyNode) MarshalJSON() ([]byte, error) {
	type alias HierarchyNode
	a := (*alias)(n)
	if a.Children == nil {
		cp := *a
		cp.Children = []*HierarchyNode{}
		return json.Marshal(&cp)
	}
	return json.Marshal(a)
}

// StalenessStatus is the freshness badge of a route. It is always computed,
// never stored.
type StalenessStatus string

const (
	StatusInactive StalenessStatus = "inactive"
	StatusFresh    StalenessStatus = "fresh"
	StatusWarn     StalenessStatus = "warn"
	StatusStale    StalenessStatus = "stale"
)

// RouteConfig maps a URL path to one or more Drive folders.
type RouteConfig struct {
	ID             string         `json:"id"`
	Slug           string         `json:"slug"`
	FolderIDs      []string       `json:"folder_ids"`
	Title          string         `json:"title"`
	Subtitle       string         `json:"subtitle,omitempty"`
	Description    string         `json:"description,omitempty"`
	IsActive       bool           `json:"is_active"`
	LastUpdated    time.Time      `json:"last_updated"`
	CustomSettings map[string]any `json:"custom_settings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Hierarchy is populated on sync results only; trees live in the cache store.
	Hierarchy *HierarchyNode `json:"hierarchy,omitempty"`
}

// Clone returns a copy that shares no mutable state with r, except the
// immutable hierarchy tree.
func (r *RouteConfig) Clone() *RouteConfig {
	if r == nil {
		return nil
	}
	cp := *r
	cp.FolderIDs = append([]string(nil), r.FolderIDs...)
	if r.CustomSettings != nil {
		cp.CustomSettings = make(map[string]any, len(r.CustomSettings))
		for k, v := range r.CustomSettings {
			cp.CustomSettings[k] = v
		}
	}
	return &cp
}

// CacheMeta is stored next to every cached tree.
type CacheMeta struct {
	TotalItems  int      `json:"total_items"`
	MaxDepth    int      `json:"max_depth"`
	BuildTimeMs int64    `json:"build_time_ms"`
	FolderIDs   []string `json:"folder_ids,omitempty"`
}

// CacheEntry is a cached hierarchy for one cache key.
type CacheEntry struct {
	Key     string         `json:"key"`
	Tree    *HierarchyNode `json:"tree"`
	BuiltAt time.Time      `json:"built_at"`
	Meta    CacheMeta      `json:"meta"`
}
