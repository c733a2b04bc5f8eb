package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDiffCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "diff <kind> <id> <transaction>",
		Short: "Show what a transaction changed",
		Long: `Compute the change set of an entity for one transaction from the revision
history. The entity as recorded for the transaction is compared with the
latest other revision; bookkeeping fields such as metadata_modified are
excluded. An unknown transaction gives an empty change set.`,
		Example: `  trackerd diff package 0c5e8e4c-... 5f2a...`,
		Args:    cobra.ExactArgs(3),
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

			changes, err := a.diff.ComputeChanges(cmd.Context(), args[2], kind, args[1])
			if err != nil {
				return err
			}

			fields := changes.Fields()
			return printOutput(cmd.OutOrStdout(), output, changes, func(tw *tabwriter.Writer) {
				if len(fields) == 0 {
					fmt.Fprintln(tw, "no changes")
					return
				}
				fmt.Fprintln(tw, "FIELD\tOLD\tNEW")
				for _, f := range fields {
					c := changes[f]
					fmt.Fprintf(tw, "%s\t%s\t%s\n", f, render(c.Old, c.HasOld), render(c.New, c.HasNew))
				}
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format (table, json, yaml)")

	return cmd
}

func render(v interface{}, present bool) string {
	if !present {
		return "<absent>"
	}
	if v == nil {
		return "null"
	}
	s := fmt.Sprint(v)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
