package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/machine-sentry/internal/config"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [workflow-id...]",
	Short: "Drive persisted workflow runs to completion",
	Long: `Resume the named workflow runs, or every non-terminal run when no ID is
given. Steps that completed before the interruption are not repeated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if len(args) == 0 {
			return a.orchestrator.ResumeActive(ctx)
		}

		var failed int
		for _, id := range args {
			snap, err := a.orchestrator.Resume(ctx, id)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", snap.ID, snap.State)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d workflows did not complete", failed, len(args))
		}
		return nil
	},
}
