package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	linediff "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/line_diff"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges <base-file> <head-file>",
	Short: "Print the changed line ranges between two revisions of a file",
	Long: `Print the line ranges of head-file that differ from base-file, one
"from-to" pair per line. These are the ranges a machine definition must
overlap to be commented on. Pass --diff to also print the unified diff.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading base: %w", err)
		}
		head, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading head: %w", err)
		}

		adapter := linediff.New()
		w := cmd.OutOrStdout()

		if showDiff, _ := cmd.Flags().GetBool("diff"); showDiff {
			if diff := adapter.ComputeDiff(args[0], args[1], base, head); diff != "" {
				fmt.Fprintln(w, diff)
				fmt.Fprintln(w)
			}
		}

		for _, r := range adapter.ChangedRanges(base, head) {
			fmt.Fprintf(w, "%d-%d\n", r.From, r.To)
		}
		return nil
	},
}

func init() {
	rangesCmd.Flags().Bool("diff", false, "Also print the unified diff")
}
