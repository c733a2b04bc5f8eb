package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

func newTrackersCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "trackers",
		Short: "List the registered trackers",
		Long: `List every tracker enabled in the configuration with its queue, the
entity kinds it acts on and the worker commands it can enqueue.`,
		Example: `  trackerd trackers
  trackerd trackers -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			list := descriptors(a.registry)
			return printOutput(cmd.OutOrStdout(), output, list, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "NAME\tQUEUE\tKINDS\tBADGE\tUI\tCOMMANDS")
				for _, d := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						d.Name, d.Queue, joinKinds(d.Kinds), dash(d.BadgeTitle), yesNo(d.ShowUI), joinCommands(d.Commands))
				}
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format (table, json, yaml)")

	return cmd
}

func joinKinds(kinds []engine.EntityKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func joinCommands(cmds []engine.Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
