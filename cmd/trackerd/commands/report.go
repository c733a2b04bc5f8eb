package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		jobID    string
		command  string
		remoteID string
		errMsg   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "report <kind> <id> <tracker> <state>",
		Short: "Report a worker state",
		Long: `Apply a worker's state update to the task status ledger.

The state must be running, complete or error. The update goes through the
same atomic upsert the dispatch pipeline uses.`,
		Example: `  trackerd report resource 7d1f... geoserver running --job-id 42
  trackerd report resource 7d1f... geoserver error --error "layer publish failed"`,
		Args: cobra.ExactArgs(4),
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

			key := stores.TaskKey{EntityID: args[1], EntityType: string(kind), TaskType: args[2]}
			value := stores.TaskValue{JobID: jobID, Command: command, RemoteID: remoteID}
			status, err := engine.Report(ctx, a.store, key, stores.TaskState(args[3]), value, errMsg)
			if err != nil {
				return err
			}
			a.audit(ctx, "task_status.reported", "cli", key.EntityID, string(status.State))

			log.Info().Str("key", key.String()).Str("state", string(status.State)).Msg("Task status updated")
			return printOutput(cmd.OutOrStdout(), output, status, nil)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "job id the worker ran")
	cmd.Flags().StringVar(&command, "command", "", "worker command")
	cmd.Flags().StringVar(&remoteID, "remote-id", "", "id of the entity on the remote side")
	cmd.Flags().StringVar(&errMsg, "error", "", "error message for the error state")
	cmd.Flags().StringVarP(&output, "output", "o", formatJSON, "output format (json, yaml)")

	return cmd
}
