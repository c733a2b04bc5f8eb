package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CivityNL/ckanext-tracker/pkg/ckan"
	"github.com/CivityNL/ckanext-tracker/pkg/config"
	"github.com/CivityNL/ckanext-tracker/pkg/engine"
	"github.com/CivityNL/ckanext-tracker/pkg/policy"
	"github.com/CivityNL/ckanext-tracker/pkg/queue"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
	"github.com/CivityNL/ckanext-tracker/pkg/telemetry"
	"github.com/CivityNL/ckanext-tracker/pkg/trackers"
)

// app is the wired daemon. Commands that only read the ledger leave the
// queue, dispatcher and lifecycle nil.
type app struct {
	cfg        *config.Config
	tel        *telemetry.Telemetry
	logger     zerolog.Logger
	store      stores.Store
	catalog    *ckan.Client
	registry   *engine.Registry
	revisions  *engine.StoreRevisions
	diff       *engine.DiffEngine
	publisher  *queue.Publisher
	dispatcher *engine.Dispatcher
	lifecycle  *engine.Lifecycle
	rules      *policy.Engine
}

type appOptions struct {
	// dispatch opens the queue and builds the dispatch pipeline.
	dispatch bool
}

// loadConfig reads the configuration and applies the log level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	switch {
	case logLevel != "":
		cfg.Telemetry.Logging.Level = logLevel
	case os.Getenv("LOG_LEVEL") != "":
		cfg.Telemetry.Logging.Level = os.Getenv("LOG_LEVEL")
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	log.Logger = logger

	a := &app{cfg: cfg, tel: tel, logger: logger}
	if err := a.init(ctx, opts); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	store, err := stores.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.Stores())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store

	if retention := a.cfg.Store.RevisionRetention; retention > 0 {
		n, err := store.PruneRevisions(ctx, time.Now().Add(-retention))
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to prune revisions")
		} else if n > 0 {
			a.logger.Info().Int64("rows", n).Msg("pruned revisions")
		}
	}

	var deps trackers.Dependencies
	if a.cfg.CKAN.URL != "" {
		a.catalog, err = ckan.NewClient(ckan.Config{
			URL:     a.cfg.CKAN.URL,
			APIKey:  a.cfg.CKAN.APIKey,
			Timeout: a.cfg.CKAN.Timeout,
		}, nil, a.logger)
		if err != nil {
			return err
		}
		deps.Patcher = a.catalog
	}

	a.registry = engine.NewRegistry(a.logger.With().Str("component", "registry").Logger())
	if err := trackers.Register(a.registry, a.cfg, deps, a.logger); err != nil {
		return fmt.Errorf("failed to register trackers: %w", err)
	}

	a.revisions = engine.NewStoreRevisions(store)
	a.diff = engine.NewDiffEngine(a.revisions, a.logger.With().Str("component", "diff").Logger())

	if !opts.dispatch {
		return nil
	}

	a.publisher, err = queue.Open(a.cfg.Queue, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}

	// a nil *ckan.Client must not become a non-nil interface
	var source engine.CatalogSource
	if a.catalog != nil {
		source = a.catalog
	}
	a.dispatcher = engine.NewDispatcher(a.publisher, store, source, a.logger.With().Str("component", "dispatcher").Logger())
	a.dispatcher.SetObserver(a.tel.Metrics)

	if a.cfg.Policy.Enabled {
		a.rules, err = policy.NewEngine(policy.Options{
			Package:  a.cfg.Policy.Package,
			Builtins: a.cfg.Policy.Builtins,
		}, a.logger)
		if err != nil {
			return err
		}
		if len(a.cfg.Policy.Paths) > 0 {
			if err := a.rules.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
				return err
			}
			if a.cfg.Policy.Watch {
				if err := a.rules.Watch(ctx, a.cfg.Policy.Paths); err != nil {
					return err
				}
			}
		}
		a.dispatcher.Use(a.rules)
	}

	a.lifecycle = engine.NewLifecycle(a.registry, a.dispatcher, a.diff, a.logger.With().Str("component", "lifecycle").Logger())

	a.logger.Info().
		Strs("trackers", a.registry.Names()).
		Str("queue", a.cfg.Queue.Backend).
		Str("store", a.cfg.Store.Driver).
		Bool("policy", a.rules != nil).
		Msg("tracker pipeline ready")
	return nil
}

// Close releases the queue, the store and the tracer.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close cleanly")
	}
}

// audit records an operator action. Failures are logged only.
func (a *app) audit(ctx context.Context, action, actor, target string, details string) {
	entry := &stores.AuditEntry{Action: action, Actor: actor}
	if target != "" {
		entry.TargetID = &target
	}
	if details != "" {
		entry.Details = &details
	}
	if err := a.store.CreateAuditEntry(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

func parseKind(s string) (engine.EntityKind, error) {
	kind := engine.EntityKind(s)
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}
