package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema",
		Long: `Create or upgrade the task status ledger schema for the configured
store driver. serve migrates on startup as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := stores.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.Stores())
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store.Driver)
			return nil
		},
	}

	return cmd
}
