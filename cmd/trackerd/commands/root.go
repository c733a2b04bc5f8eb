package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trackerd",
		Short: "CKAN tracker daemon",
		Long: `trackerd turns CKAN lifecycle events into jobs for external integrations.

It computes what changed on a package or resource, asks every enabled tracker
whether the change warrants work, enqueues the resulting jobs and keeps a
task status ledger that workers report back to.

Trackers:
  - geoserver, datastore_geoserver
  - geonetwork
  - ogr
  - ckantockan_donl, ckantockan_oneckan`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $TRACKER_CONFIG or ./tracker.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL and the config)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newPurgeCommand())
	rootCmd.AddCommand(newTrackersCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
