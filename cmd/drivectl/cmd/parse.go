package cmd

import (
	"fmt"
	"mime"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivecms/pkg/content"
	"github.com/fruitsalade/drivecms/pkg/naming"
)

var (
	parseFolder bool
	parseMime   string
)

var parseCmd = &cobra.Command{
	Use:   "parse <name>...",
	Short: "Show how Drive names are interpreted",
	Long: `Show how Drive names are interpreted by the naming conventions:
order prefixes, semantic type prefixes and flag suffixes.

Example:
  drivectl parse "01_Video_Intro_dark.mp4" "(2) Gallery_hidden"
  drivectl parse --mime application/vnd.google-apps.document "Plan v1.2"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RAW\tDISPLAY\tORDER\tTYPE\tCONTENT\tSLUG\tFLAGS")
		for _, raw := range args {
			p := naming.Parse(raw)
			category := "-"
			if !parseFolder {
				mt := parseMime
				if mt == "" {
					mt = mime.TypeByExtension(filepath.Ext(raw))
				}
				p = naming.ParseFile(raw, mt)
				if mt != "" {
					category = string(content.Classify(mt))
				}
			}
			semantic := "-"
			if p.SemanticType != nil {
				semantic = *p.SemanticType
			}
			var flags []string
			if p.Hidden {
				flags = append(flags, "hidden")
			}
			if p.NoTitle {
				flags = append(flags, "notitle")
			}
			if p.ThemeDark {
				flags = append(flags, "dark")
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%v\n",
				raw, p.DisplayName, p.Order, semantic, category, naming.Slug(p.DisplayName), flags)
		}
		return tw.Flush()
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parseFolder, "folder", false, "treat names as folders (keep extensions)")
	parseCmd.Flags().StringVar(&parseMime, "mime", "", "MIME type of the files (default: guessed from the extension)")
	rootCmd.AddCommand(parseCmd)
}
