// Package engine implements change detection and job dispatch for catalog
// trackers.
//
// # Overview
//
// A tracker forwards changes of packages and resources in a CKAN catalog to
// one external integration (GeoServer, GeoNetwork, OGR, another CKAN). The
// engine runs every host lifecycle event through the same pipeline:
//
//  1. Diff - compute field-level deltas for a package and its resources (DiffEngine)
//  2. Decide - map (entity, changes, companion) to a Decision per tracker (Policies)
//  3. Dispatch - build the job payload, veto or compensate, write the ledger and enqueue (Dispatcher)
//
// Workers execute jobs out of process and report back through Report.
//
// # Decisions
//
// Decision functions never return errors. They return one of:
//
//   - NoAction: nothing to do
//   - Proceed(cmd): enqueue cmd
//   - Skip(reason): an expected stop, the ledger is untouched
//   - Compensate(cmd, reason): enqueue the corrective cmd instead
//
// # Ordering
//
// Within one package transaction Lifecycle dispatches package creates before
// resource creates and resource deletes before the package delete. Once jobs
// are on the queue no ordering holds, so commands are upserts wherever the
// worker allows it.
//
// # Ledger
//
// The ledger keeps one row per (entity id, entity type, tracker). The
// dispatcher writes created before enqueueing and pending after; any
// failure is written as error and swallowed, so host actions never fail
// because of an integration.
//
// # Usage
//
//	registry := engine.NewRegistry(logger)
//	_ = registry.Register(tracker)
//
//	dispatcher := engine.NewDispatcher(queue, store, catalog, logger)
//	diff := engine.NewDiffEngine(engine.NewStoreRevisions(store), logger)
//	lifecycle := engine.NewLifecycle(registry, dispatcher, diff, logger)
//
//	results := lifecycle.Evaluate(ctx, before, after, user)
//
// # Embedding
//
// trackerd receives before and after snapshots from the host, so it calls
// Evaluate directly. A Go host that runs catalog actions in process uses
// Wrap instead: nested actions (a package_update calling resource_update)
// share the Scope stored in the context, snapshots are read from the
// CatalogSource at the outermost boundary, and only that boundary
// evaluates.
//
//	results, err := engine.Wrap(ctx, catalog, lifecycle, packageID, user, func(ctx context.Context) (string, error) {
//		return updatePackage(ctx, packageID)
//	})
package engine
