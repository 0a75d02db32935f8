package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivecms/internal/auth"
)

var (
	tokenUser  string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with JWT_SECRET",
	Long: `Issue an API token signed with the server's JWT_SECRET. Admin tokens
unlock the /api/v1/admin endpoints; any token can open the event stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := auth.New(os.Getenv("JWT_SECRET"))
		if err != nil {
			return fmt.Errorf("JWT_SECRET: %w", err)
		}
		signed, expires, err := a.IssueToken(tokenUser, tokenAdmin, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "admin", "token subject")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", true, "grant admin access")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
