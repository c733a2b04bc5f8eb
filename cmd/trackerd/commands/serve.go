package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake",
		Long: `Run the tracker daemon.

serve opens and migrates the task status ledger, connects the job queue,
registers the configured trackers and accepts lifecycle events over HTTP:

  POST /api/events              package and resource lifecycle events
  POST /api/upload              datastore upload completed
  POST /api/callback/{tracker}  a tracker finished with a resource
  GET  /api/task_status         one ledger record
  POST /api/task_status         worker state report
  GET  /api/trackers            registered trackers
  GET  /api/trackers/{kind}/{id} status overview of an entity
  GET  /healthz                 store and queue health
  GET  /metrics                 Prometheus metrics`,
		Example: `  # Serve with ./tracker.yaml
  trackerd serve

  # Serve on another port
  trackerd serve --addr :9000 --config /etc/ckanext-tracker/tracker.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{dispatch: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return serve(ctx, a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newServer(a).routes(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP intake listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP intake")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
