// Package tree builds hierarchy trees from flat Drive listings and provides
// helpers for working with them.
package tree

import (
	"fmt"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// Walk visits every node depth-first, parents before children. It uses an
// explicit stack so arbitrarily deep trees are safe.
func Walk(root *models.HierarchyNode, fn func(*models.HierarchyNode)) {
	if root == nil {
		return
	}
	stack := []*models.HierarchyNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// FindByPath resolves a path in the tree.
func FindByPath(root *models.HierarchyNode, path string) *models.HierarchyNode {
	var found *models.HierarchyNode
	Walk(root, func(n *models.HierarchyNode) {
		if found == nil && n.Path == path {
			found = n
		}
	})
	return found
}

// FindByID finds a node by its ID.
func FindByID(root *models.HierarchyNode, id string) *models.HierarchyNode {
	var found *models.HierarchyNode
	Walk(root, func(n *models.HierarchyNode) {
		if found == nil && n.ID == id {
			found = n
		}
	})
	return found
}

// CountNodes counts all nodes in a tree, the root included.
func CountNodes(root *models.HierarchyNode) int {
	count := 0
	Walk(root, func(*models.HierarchyNode) { count++ })
	return count
}

// MaxDepth returns the deepest depth below root, relative to root.
func MaxDepth(root *models.HierarchyNode) int {
	if root == nil {
		return 0
	}
	deepest := 0
	Walk(root, func(n *models.HierarchyNode) {
		if d := n.Depth - root.Depth; d > deepest {
			deepest = d
		}
	})
	return deepest
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "/" || parentPath == "" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// Flatten returns all nodes in a flat map keyed by id.
func Flatten(root *models.HierarchyNode) map[string]*models.HierarchyNode {
	result := make(map[string]*models.HierarchyNode)
	Walk(root, func(n *models.HierarchyNode) { result[n.ID] = n })
	return result
}

// Prune returns a copy of root without nodes deeper than maxDepth levels
// below it. A maxDepth of zero or less copies the whole tree. The input is
// not modified.
func Prune(root *models.HierarchyNode, maxDepth int) *models.HierarchyNode {
	if root == nil {
		return nil
	}
	type pair struct{ src, dst *models.HierarchyNode }

	cp := copyNode(root)
	stack := []pair{{root, cp}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if maxDepth > 0 && p.src.Depth-root.Depth >= maxDepth {
			continue
		}
		for _, c := range p.src.Children {
			cc := copyNode(c)
			p.dst.Children = append(p.dst.Children, cc)
			stack = append(stack, pair{c, cc})
		}
	}
	return cp
}

func copyNode(n *models.HierarchyNode) *models.HierarchyNode {
	cp := *n
	cp.Children = make([]*models.HierarchyNode, 0, len(n.Children))
	return &cp
}

// Validate checks the structural invariants of a built tree: depths
// increase by one per level, folders precede files, order is non-decreasing
// within each group, ids are unique and children are never nil.
func Validate(root *models.HierarchyNode) error {
	if root == nil {
		return fmt.Errorf("nil tree")
	}
	ids := make(map[string]bool)
	var err error
	Walk(root, func(n *models.HierarchyNode) {
		if err != nil {
			return
		}
		if ids[n.ID] {
			err = fmt.Errorf("duplicate id %q", n.ID)
			return
		}
		ids[n.ID] = true
		if n.Children == nil {
			err = fmt.Errorf("node %q: nil children", n.ID)
			return
		}
		for i, c := range n.Children {
			if c.Depth != n.Depth+1 {
				err = fmt.Errorf("node %q: depth %d under parent depth %d", c.ID, c.Depth, n.Depth)
				return
			}
			if i == 0 {
				continue
			}
			prev := n.Children[i-1]
			if !prev.IsFolder() && c.IsFolder() {
				err = fmt.Errorf("node %q: folder %q after file %q", n.ID, c.ID, prev.ID)
				return
			}
			if prev.IsFolder() == c.IsFolder() && prev.Order > c.Order {
				err = fmt.Errorf("node %q: %q (order %d) after %q (order %d)", n.ID, c.ID, c.Order, prev.ID, prev.Order)
				return
			}
		}
	})
	return err
}
