package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/protocol"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List and manage routes",
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routes with staleness and cache status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp protocol.RouteListResponse
		if err := newClient().do(context.Background(), http.MethodGet, "/api/v1/routes", nil, nil, &resp); err != nil {
			return err
		}
		printRoutes(cmd, resp.Routes)
		return nil
	},
}

func printRoutes(cmd *cobra.Command, rows []protocol.RouteStatus) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTE\tSTATUS\tSYNC\tCACHED\tITEMS\tLAST SYNC")
	for _, r := range rows {
		last := "never"
		if r.LastSyncedAt != nil {
			last = r.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n",
			r.Route.Slug, r.Staleness, r.SyncState, r.Cached, r.TotalItems, last)
	}
	tw.Flush()
}

var (
	routeFolders     []string
	routeTitle       string
	routeSubtitle    string
	routeDescription string
	routeInactive    bool
	routeSettings    string
)

var routesSetCmd = &cobra.Command{
	Use:   "set <route>",
	Short: "Create or replace a route",
	Long: `Create or replace a route. Sync state of an existing route is kept.

Example:
  drivectl routes set /marketing --folder 1AbC --title Marketing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active := !routeInactive
		req := protocol.RouteRequest{
			Slug:        args[0],
			FolderIDs:   routeFolders,
			Title:       routeTitle,
			Subtitle:    routeSubtitle,
			Description: routeDescription,
			IsActive:    &active,
		}
		if routeSettings != "" {
			if err := json.Unmarshal([]byte(routeSettings), &req.CustomSettings); err != nil {
				return fmt.Errorf("--settings must be a JSON object: %w", err)
			}
		}
		var route models.RouteConfig
		if err := newClient().do(context.Background(), http.MethodPut, "/api/v1/admin/routes", nil, req, &route); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", route.Slug, route.ID)
		return nil
	},
}

var routesToggleCmd = &cobra.Command{
	Use:   "toggle <route>",
	Short: "Flip a route between active and inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var route models.RouteConfig
		if err := newClient().do(context.Background(), http.MethodPost, "/api/v1/admin/toggle"+routePath(args[0]), nil, nil, &route); err != nil {
			return err
		}
		state := "inactive"
		if route.IsActive {
			state = "active"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", route.Slug, state)
		return nil
	},
}

var routesDeleteCmd = &cobra.Command{
	Use:   "delete <route>",
	Short: "Delete a route and its cached tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(context.Background(), http.MethodDelete, "/api/v1/admin/routes"+routePath(args[0]), nil, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var routesImportCmd = &cobra.Command{
	Use:   "import <routes.yaml>",
	Short: "Create or replace every route listed in a YAML file",
	Long: `Create or replace every route listed in a YAML file. The file is
validated as a whole before anything is sent.

Example file:
  routes:
    - slug: /marketing
      folder_ids: [1AbC]
      title: Marketing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := routes.LoadSeedFile(args[0])
		if err != nil {
			return err
		}
		c := newClient()
		for _, r := range list {
			active := r.IsActive
			req := protocol.RouteRequest{
				Slug:           r.Slug,
				FolderIDs:      r.FolderIDs,
				Title:          r.Title,
				Subtitle:       r.Subtitle,
				Description:    r.Description,
				IsActive:       &active,
				CustomSettings: r.CustomSettings,
			}
			var saved models.RouteConfig
			if err := c.do(cmd.Context(), http.MethodPut, "/api/v1/admin/routes", nil, req, &saved); err != nil {
				return fmt.Errorf("import %s: %w", r.Slug, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", saved.Slug)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d routes imported\n", len(list))
		return nil
	},
}

func init() {
	routesSetCmd.Flags().StringSliceVarP(&routeFolders, "folder", "f", nil, "Drive folder id (repeatable)")
	routesSetCmd.Flags().StringVar(&routeTitle, "title", "", "route title")
	routesSetCmd.Flags().StringVar(&routeSubtitle, "subtitle", "", "route subtitle")
	routesSetCmd.Flags().StringVar(&routeDescription, "description", "", "route description")
	routesSetCmd.Flags().BoolVar(&routeInactive, "inactive", false, "create the route inactive")
	routesSetCmd.Flags().StringVar(&routeSettings, "settings", "", "custom settings as a JSON object")
	routesSetCmd.MarkFlagRequired("folder")

	routesCmd.AddCommand(routesListCmd, routesSetCmd, routesImportCmd, routesToggleCmd, routesDeleteCmd)
	rootCmd.AddCommand(routesCmd)
}
