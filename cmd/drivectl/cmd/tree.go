package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/tree"
)

var (
	mirrorPath     string
	treeJSON       bool
	treeMaxDepth   int
	treeShowHidden bool
)

var treeCmd = &cobra.Command{
	Use:   "tree <folder>...",
	Short: "Build a hierarchy offline from a local Drive mirror",
	Long: `Build a hierarchy offline from a local Drive mirror, the same way
the server does on sync. Folder ids are paths relative to the mirror root.
Several folders are merged under one root.

Example:
  drivectl tree --mirror /data/drive Marketing Academy`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := drive.NewLocalReader(drive.LocalConfig{RootPath: mirrorPath})
		if err != nil {
			return err
		}
		root, err := buildOffline(cmd.Context(), reader, args)
		if err != nil {
			return err
		}
		if err := tree.Validate(root); err != nil {
			return fmt.Errorf("built tree is invalid: %w", err)
		}
		if treeMaxDepth > 0 {
			root = tree.Prune(root, treeMaxDepth)
		}
		if treeJSON {
			return writeJSON(cmd, root)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d items, depth %d\n", tree.CountNodes(root), tree.MaxDepth(root))
		printTree(cmd.OutOrStdout(), root, 0)
		return nil
	},
}

func buildOffline(ctx context.Context, reader drive.Reader, folders []string) (*models.HierarchyNode, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	roots := make([]*models.HierarchyNode, len(folders))
	g, gctx := errgroup.WithContext(ctx)
	for i, folderID := range folders {
		g.Go(func() error {
			info, err := reader.GetFolderInfo(gctx, folderID)
			if err != nil {
				return err
			}
			items, err := reader.ListItems(gctx, folderID)
			if err != nil {
				return err
			}
			roots[i] = tree.Build(folderID, info.Name, items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(roots) == 1 {
		return roots[0], nil
	}
	return tree.Merge("offline", "offline", roots), nil
}

func printTree(w io.Writer, node *models.HierarchyNode, depth int) {
	if node == nil {
		return
	}
	if node.Hidden && !treeShowHidden && depth > 0 {
		return
	}

	indent := strings.Repeat("  ", depth)
	marker := ""
	if node.DriveType == models.DriveFolder {
		marker = "/"
	}
	line := fmt.Sprintf("%s%s%s", indent, node.Name, marker)
	var tags []string
	if node.Order != models.DefaultOrder {
		tags = append(tags, fmt.Sprintf("#%d", node.Order))
	}
	if node.SemanticType != nil {
		tags = append(tags, *node.SemanticType)
	}
	if node.ContentType != "" {
		tags = append(tags, node.ContentType)
	}
	if node.Hidden {
		tags = append(tags, "hidden")
	}
	if len(tags) > 0 {
		line += "  [" + strings.Join(tags, " ") + "]"
	}
	fmt.Fprintln(w, line)

	for _, child := range node.Children {
		printTree(w, child, depth+1)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	treeCmd.Flags().StringVarP(&mirrorPath, "mirror", "m", envOr("DRIVE_MIRROR_PATH", "."), "local Drive mirror root")
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "print the tree as JSON")
	treeCmd.Flags().IntVar(&treeMaxDepth, "max-depth", 0, "truncate below this depth")
	treeCmd.Flags().BoolVar(&treeShowHidden, "hidden", false, "show hidden nodes")

	rootCmd.AddCommand(treeCmd)
}
