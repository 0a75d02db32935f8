package tree

import (
	"slices"
	"strconv"
	"strings"

	"github.com/fruitsalade/drivecms/pkg/content"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/naming"
)

// builder holds the state of a single Build call.
type builder struct {
	rootID  string
	root    *models.HierarchyNode
	folders map[string]*models.HierarchyNode // raw path key -> folder
	ids     map[string]bool
}

// Build turns a flat listing into an ordered tree rooted at rootID.
//
// Folders get an id derived from their path; files keep their Drive id.
// Items with missing or malformed path segments are attached to the root.
// The result depends only on the input, so building the same listing twice
// yields identical trees.
func Build(rootID, rootName string, items []models.DriveItem) *models.HierarchyNode {
	parsed := naming.Parse(rootName)
	root := &models.HierarchyNode{
		ID:           rootID,
		DriveID:      rootID,
		Name:         parsed.DisplayName,
		RawName:      rootName,
		Path:         "/",
		DriveType:    models.DriveFolder,
		SemanticType: parsed.SemanticType,
		Order:        parsed.Order,
		Hidden:       parsed.Hidden,
		NoTitle:      parsed.NoTitle,
		ThemeDark:    parsed.ThemeDark,
		Children:     []*models.HierarchyNode{},
	}

	b := &builder{
		rootID:  rootID,
		root:    root,
		folders: make(map[string]*models.HierarchyNode),
		ids:     map[string]bool{rootID: true},
	}

	// Folder pass.
	for _, item := range items {
		segments := cleanSegments(item.PathSegments)
		b.ensureFolders(segments)
		if item.IsFolder() && strings.TrimSpace(item.Name) != "" {
			folder := b.ensureFolders(append(segments, item.Name))
			if folder.DriveID == "" {
				folder.DriveID = item.ID
			}
		}
	}

	// File pass.
	for _, item := range items {
		if item.IsFolder() || b.ids[item.ID] || item.ID == "" {
			continue
		}
		container := b.container(cleanSegments(item.PathSegments))
		b.ids[item.ID] = true
		container.Children = append(container.Children, newFileNode(item, container))
	}

	SortChildren(root)
	return root
}

// ensureFolders creates any missing folder along segments and returns the
// deepest one (the root when segments is empty).
func (b *builder) ensureFolders(segments []string) *models.HierarchyNode {
	parent := b.root
	key := ""
	for _, seg := range segments {
		key += "/" + seg
		node, ok := b.folders[key]
		if !ok {
			parsed := naming.Parse(seg)
			node = &models.HierarchyNode{
				ID:           b.folderID(key),
				Name:         parsed.DisplayName,
				RawName:      seg,
				Path:         key,
				DriveType:    models.DriveFolder,
				SemanticType: parsed.SemanticType,
				Order:        parsed.Order,
				Depth:        parent.Depth + 1,
				Hidden:       parsed.Hidden,
				NoTitle:      parsed.NoTitle,
				ThemeDark:    parsed.ThemeDark,
				Children:     []*models.HierarchyNode{},
			}
			b.folders[key] = node
			parent.Children = append(parent.Children, node)
		}
		parent = node
	}
	return parent
}

func (b *builder) container(segments []string) *models.HierarchyNode {
	if len(segments) == 0 {
		return b.root
	}
	if node, ok := b.folders["/"+strings.Join(segments, "/")]; ok {
		return node
	}
	return b.root
}

// folderID derives a stable id from the root id and the folder path. Paths
// that normalize to the same slug get a numeric suffix in the order they
// were first seen.
func (b *builder) folderID(pathKey string) string {
	base := "folder-" + naming.Slug(b.rootID+pathKey)
	id := base
	for n := 2; b.ids[id]; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	b.ids[id] = true
	return id
}

func newFileNode(item models.DriveItem, container *models.HierarchyNode) *models.HierarchyNode {
	parsed := naming.ParseFile(item.Name, item.MimeType)
	return &models.HierarchyNode{
		ID:           item.ID,
		DriveID:      item.ID,
		Name:         parsed.DisplayName,
		RawName:      item.Name,
		Path:         BuildChildPath(container.Path, item.Name),
		DriveType:    models.DriveFile,
		MimeType:     item.MimeType,
		ContentType:  string(content.Classify(item.MimeType)),
		SemanticType: parsed.SemanticType,
		Order:        parsed.Order,
		Depth:        container.Depth + 1,
		Hidden:       parsed.Hidden,
		NoTitle:      parsed.NoTitle,
		ThemeDark:    parsed.ThemeDark,
		Children:     []*models.HierarchyNode{},
	}
}

// cleanSegments drops empty and whitespace-only segments.
func cleanSegments(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SortChildren orders every node's children: folders first, then by
// ascending order. Ties keep their listing order.
func SortChildren(root *models.HierarchyNode) {
	if root == nil {
		return
	}
	stack := []*models.HierarchyNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		slices.SortStableFunc(n.Children, compareSiblings)
		stack = append(stack, n.Children...)
	}
}

func compareSiblings(a, b *models.HierarchyNode) int {
	if a.IsFolder() != b.IsFolder() {
		if a.IsFolder() {
			return -1
		}
		return 1
	}
	return a.Order - b.Order
}

// Merge places several built roots under a synthetic super-root. Depths and
// paths of the merged subtrees are shifted below the super-root, and a node
// whose id already appeared in an earlier root is dropped with its subtree.
func Merge(id, name string, roots []*models.HierarchyNode) *models.HierarchyNode {
	parsed := naming.Parse(name)
	super := &models.HierarchyNode{
		ID:           id,
		Name:         parsed.DisplayName,
		RawName:      name,
		Path:         "/",
		DriveType:    models.DriveFolder,
		SemanticType: parsed.SemanticType,
		Order:        parsed.Order,
		Children:     make([]*models.HierarchyNode, 0, len(roots)),
	}
	seen := map[string]bool{id: true}
	for _, r := range roots {
		if r == nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		prefix := "/" + r.ID
		stack := []*models.HierarchyNode{r}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n.Depth++
			if n == r {
				n.Path = prefix
			} else {
				n.Path = prefix + n.Path
			}
			kept := n.Children[:0]
			for _, c := range n.Children {
				if seen[c.ID] {
					continue
				}
				seen[c.ID] = true
				kept = append(kept, c)
			}
			n.Children = kept
			stack = append(stack, kept...)
		}
		super.Children = append(super.Children, r)
	}
	slices.SortStableFunc(super.Children, compareSiblings)
	return super
}
