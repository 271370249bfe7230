package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/machine-sentry/internal/config"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show a workflow run, or list the active ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx := cmd.Context()
		store, closeStore, err := openStateStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		w := cmd.OutOrStdout()

		if len(args) == 1 {
			snap, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		ids, err := store.ListActive(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(w, "No active workflows.")
			return nil
		}

		fmt.Fprintf(w, "%-16s %-8s %s\n", "STATE", "PENDING", "WORKFLOW")
		fmt.Fprintf(w, "%-16s %-8s %s\n", strings.Repeat("-", 16), strings.Repeat("-", 8), strings.Repeat("-", 8))
		for _, id := range ids {
			snap, err := store.Load(ctx, id)
			if err != nil {
				if domain.IsNotFound(err) {
					continue
				}
				return err
			}
			fmt.Fprintf(w, "%-16s %-8d %s\n", snap.State, len(snap.Context.PendingFiles), snap.ID)
		}
		return nil
	},
}
