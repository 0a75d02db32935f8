package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivecms/pkg/protocol"
)

var syncCmd = &cobra.Command{
	Use:   "sync <route>",
	Short: "Rebuild a route's hierarchy from Drive now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp protocol.SyncResponse
		if err := newClient().do(context.Background(), http.MethodPost, "/api/v1/admin/sync"+routePath(args[0]), nil, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %s: %d items, depth %d\n", resp.Route.Slug, resp.TotalItems, resp.MaxDepth)
		return nil
	},
}

var invalidateDescendants bool

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <route>",
	Short: "Drop the cached tree of a route",
	Long: `Drop the cached tree of a route. With --descendants every route
below it is dropped too; "/marketingx" is not below "/marketing".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if invalidateDescendants {
			q.Set("descendants", "true")
		}
		var resp protocol.InvalidateResponse
		if err := newClient().do(context.Background(), http.MethodPost, "/api/v1/admin/invalidate"+routePath(args[0]), q, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", resp.Removed)
		return nil
	},
}

var invalidateAllCmd = &cobra.Command{
	Use:   "invalidate-all",
	Short: "Drop every cached tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp protocol.InvalidateResponse
		if err := newClient().do(context.Background(), http.MethodPost, "/api/v1/admin/invalidate-all", nil, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", resp.Removed)
		return nil
	},
}

var cleanupMaxAge int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop cached trees older than a number of hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if cleanupMaxAge > 0 {
			q.Set("max_age_hours", strconv.Itoa(cleanupMaxAge))
		}
		var resp protocol.InvalidateResponse
		if err := newClient().do(context.Background(), http.MethodPost, "/api/v1/admin/cleanup", q, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired cache entries\n", resp.Removed)
		return nil
	},
}

var (
	getMaxDepth int
	getRefresh  bool
)

var getCmd = &cobra.Command{
	Use:   "get <route>",
	Short: "Fetch a route's hierarchy from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if getMaxDepth > 0 {
			q.Set("max_depth", strconv.Itoa(getMaxDepth))
		}
		if getRefresh {
			q.Set("refresh", "true")
		}
		var resp protocol.HierarchyResponse
		if err := newClient().do(context.Background(), http.MethodGet, "/api/v1/hierarchy"+routePath(args[0]), q, nil, &resp); err != nil {
			return err
		}
		if treeJSON {
			return writeJSON(cmd, resp)
		}
		source := "fresh build"
		if resp.Stats.FromCache {
			source = fmt.Sprintf("cache, %ds old", resp.Stats.CacheAgeSeconds)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %d items, %s\n", resp.Route.Slug, resp.Staleness, resp.Stats.TotalItems, source)
		printTree(cmd.OutOrStdout(), resp.Hierarchy, 0)
		return nil
	},
}

func init() {
	invalidateCmd.Flags().BoolVarP(&invalidateDescendants, "descendants", "d", false, "also drop routes below this one")
	cleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age-hours", 0, "age threshold (server default when 0)")
	getCmd.Flags().IntVar(&getMaxDepth, "max-depth", 0, "truncate below this depth")
	getCmd.Flags().BoolVar(&getRefresh, "refresh", false, "force a rebuild from Drive")
	getCmd.Flags().BoolVar(&treeJSON, "json", false, "print the raw response")

	rootCmd.AddCommand(syncCmd, invalidateCmd, invalidateAllCmd, cleanupCmd, getCmd)
}
