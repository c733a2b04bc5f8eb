package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCommand() *cobra.Command {
	var tracker string

	cmd := &cobra.Command{
		Use:   "purge <kind> <id>",
		Short: "Delete ledger rows of an entity",
		Long: `Delete the task status records of an entity, for every tracker or only
the one named by --tracker. No job is enqueued.`,
		Example: `  trackerd purge package 0c5e8e4c-...
  trackerd purge resource 7d1f... --tracker geoserver`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			n, err := a.store.PurgeTaskStatuses(ctx, string(kind), args[1], tracker)
			if err != nil {
				return err
			}
			a.audit(ctx, "task_status.purged", "cli", args[1], tracker)

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d task status record(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&tracker, "tracker", "", "only purge this tracker's record")

	return cmd
}
