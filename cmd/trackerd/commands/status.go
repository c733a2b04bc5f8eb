package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <kind> <id>",
		Short: "Show the tracker status of an entity",
		Long: `Show every tracker registered for the entity kind together with its
ledger record for the entity. Trackers that never acted show no state.`,
		Example: `  trackerd status package 0c5e8e4c-5a4f-4ab1-9a0e-1d2b8f6c1e2a
  trackerd status resource 7d1f... -o json`,
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
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			overview, err := engine.Overview(cmd.Context(), a.registry, a.store, kind, args[1])
			if err != nil {
				return err
			}

			return printOutput(cmd.OutOrStdout(), output, overview, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "TRACKER\tSTATE\tJOB\tUPDATED\tERROR")
				for _, s := range overview {
					if s.Status == nil {
						fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", s.Name)
						continue
					}
					errMsg := ""
					if s.Status.Error != nil {
						errMsg = *s.Status.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						s.Name,
						s.Status.State,
						dash(s.Status.Value.JobID),
						s.Status.UpdatedAt.Format("2006-01-02 15:04:05"),
						dash(errMsg))
				}
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format (table, json, yaml)")

	return cmd
}
