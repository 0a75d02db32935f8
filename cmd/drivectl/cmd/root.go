// Package cmd implements the drivectl commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivecms/internal/logging"
)

var (
	cfgFile   string
	serverURL string
	token     string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "drivectl",
	Short: "Manage DriveCMS routes and hierarchy caches",
	Long: `drivectl manages a DriveCMS server: routes, syncs and cache
invalidation go through the admin API, while tree and parse work
offline against a local Drive mirror.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
			return err
		}
		v, err := loadSettings(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		serverURL = v.GetString("server")
		token = v.GetString("token")
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/drivectl/config.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080", "DriveCMS server URL (env DRIVECMS_SERVER)")
	rootCmd.PersistentFlags().StringP("token", "t", "", "admin bearer token (env DRIVECMS_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")
}

func newClient() *client {
	return &client{baseURL: serverURL, token: token}
}
