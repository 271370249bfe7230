// Package cli implements the machine-sentry command line.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "machine-sentry",
	Short: "Post state machine diagrams on pull requests",
	Long: `machine-sentry receives GitHub pull_request webhooks, finds state machine
definitions touched by the pull request, renders each one as an SVG diagram
and posts it as a review comment on the line where the definition starts.

Workflow runs are persisted after every step and can be inspected with
"status" and continued with "resume".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(tokenCmd)
}
