package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// Lifecycle turns host lifecycle events into ordered tracker dispatches.
type Lifecycle struct {
	registry   *Registry
	dispatcher *Dispatcher
	diff       *DiffEngine
	logger     zerolog.Logger
}

// NewLifecycle wires the registry, dispatcher and diff engine together.
func NewLifecycle(registry *Registry, dispatcher *Dispatcher, diff *DiffEngine, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		registry:   registry,
		dispatcher: dispatcher,
		diff:       diff,
		logger:     logger,
	}
}

// Registry returns the tracker registry.
func (l *Lifecycle) Registry() *Registry {
	return l.registry
}

// Dispatcher returns the dispatch pipeline.
func (l *Lifecycle) Dispatcher() *Dispatcher {
	return l.dispatcher
}

// Diff returns the diff engine.
func (l *Lifecycle) Diff() *DiffEngine {
	return l.diff
}

// Evaluate runs every package and resource tracker over one package
// transaction. before and after are package snapshots with embedded
// resources; a nil before means the package was created. Only results that
// asked for a job are returned.
func (l *Lifecycle) Evaluate(ctx context.Context, before, after Snapshot, user string) []DispatchResult {
	if after == nil {
		l.logger.Warn().Msg("could not retrieve any information about a package")
		return nil
	}
	if before != nil && before.ID() != after.ID() {
		l.logger.Warn().Str("before", before.ID()).Str("after", after.ID()).Msg("got a different package")
		return nil
	}

	var results []DispatchResult
	for _, t := range l.registry.GetTrackers() {
		if !t.Handles(KindPackage) && !t.Handles(KindResource) {
			continue
		}
		results = append(results, l.evaluateTracker(ctx, t, before, after, user)...)
	}
	return results
}

// EvaluateTransaction resolves a package transaction from the revision
// history and evaluates it. Unresolvable transactions do nothing.
func (l *Lifecycle) EvaluateTransaction(ctx context.Context, packageID, transactionID, user string) []DispatchResult {
	before, after, err := l.diff.PackageAtTransaction(ctx, packageID, transactionID)
	if err != nil {
		if IsNotFound(err) {
			l.logger.Debug().Str("package_id", packageID).Str("transaction_id", transactionID).Msg("transaction not resolvable")
		} else {
			l.logger.Warn().Err(err).Str("package_id", packageID).Msg("failed to resolve transaction")
		}
		return nil
	}
	return l.Evaluate(ctx, before, after, user)
}

func (l *Lifecycle) evaluateTracker(ctx context.Context, t *Tracker, before, after Snapshot, user string) []DispatchResult {
	opts := t.Options
	diff := l.diff.DiffPackage(before, after, opts.PackageFields, opts.ResourceFields)
	pkg := diff.After
	resFilter := opts.ResourceFields.Merge(l.diff.ExclusionsFor(KindResource).Exclude...)

	packages := t.Handles(KindPackage) && !opts.IgnorePackages
	resources := t.Handles(KindResource) && !opts.IgnoreResources

	var results []DispatchResult
	emit := func(in Input) {
		in.User = user
		if r := l.decide(ctx, t, in); r.Outcome != DispatchNone {
			results = append(results, r)
		}
	}
	resource := func(phase Phase, id string, changes ChangeSet) {
		emit(Input{
			Kind:             KindResource,
			Phase:            phase,
			Entity:           diff.AfterResources[id],
			Changes:          changes,
			Companion:        pkg,
			CompanionChanges: diff.Package,
		})
	}

	switch {
	case diff.Created():
		if packages {
			emit(Input{Kind: KindPackage, Phase: PhaseCreate, Entity: pkg, Changes: diff.Package})
		}
		if resources {
			for _, id := range diff.Partition.Inserted {
				resource(PhaseCreate, id, CompareSnapshots(nil, diff.AfterResources[id], resFilter))
			}
		}

	case diff.Deleted():
		// resources go before their package on deletes
		if resources && !opts.SeparateTracking {
			for _, id := range sortedResourceIDs(diff.AfterResources) {
				resource(PhaseDelete, id, nil)
			}
		}
		if packages {
			emit(Input{Kind: KindPackage, Phase: PhaseDelete, Entity: pkg, Changes: diff.Package})
		}

	default:
		packageChanged := !diff.Package.Empty()
		if packages {
			cascade := opts.IgnoreResources && !opts.SeparateTracking && len(diff.Resources) > 0
			if packageChanged || cascade {
				emit(Input{Kind: KindPackage, Phase: PhaseUpdate, Entity: pkg, Changes: diff.Package})
			}
		}
		if resources {
			for _, id := range diff.Partition.Inserted {
				resource(PhaseCreate, id, CompareSnapshots(nil, diff.AfterResources[id], resFilter))
			}
			for _, id := range diff.Partition.Deleted {
				resource(PhaseDelete, id, nil)
			}
			for _, id := range diff.Partition.Same {
				changes, changed := diff.Resources[id]
				if changed || (packageChanged && !opts.SeparateTracking) {
					if changes == nil {
						changes = ChangeSet{}
					}
					resource(PhaseUpdate, id, changes)
				}
			}
		}
	}
	return results
}

// Resource dispatches a single resource action outside a package transaction.
func (l *Lifecycle) Resource(ctx context.Context, phase Phase, before, after, pkg Snapshot, user string) []DispatchResult {
	if phase == PhasePurge {
		return l.Purge(ctx, KindResource, after, pkg, user)
	}

	var results []DispatchResult
	for _, t := range l.registry.GetTrackersByType(KindResource) {
		if t.Options.IgnoreResources {
			continue
		}
		filter := t.Options.ResourceFields.Merge(l.diff.ExclusionsFor(KindResource).Exclude...)
		in := Input{
			Kind:      KindResource,
			Phase:     phase,
			Entity:    after,
			Changes:   CompareSnapshots(before, after, filter),
			Companion: pkg,
			User:      user,
		}
		if r := l.decide(ctx, t, in); r.Outcome != DispatchNone {
			results = append(results, r)
		}
	}
	return results
}

// Purge runs the purge decisions for an entity and then removes its ledger
// rows. Purging a package also removes the rows of its embedded resources.
func (l *Lifecycle) Purge(ctx context.Context, kind EntityKind, entity, pkg Snapshot, user string) []DispatchResult {
	if entity.ID() == "" {
		l.logger.Warn().Str("kind", string(kind)).Msg("purge without entity id")
		return nil
	}

	var results []DispatchResult
	for _, t := range l.registry.GetTrackersByType(kind) {
		if (kind == KindPackage && t.Options.IgnorePackages) || (kind != KindPackage && t.Options.IgnoreResources) {
			continue
		}
		in := Input{Kind: kind, Phase: PhasePurge, Entity: entity, Companion: pkg, User: user}
		if kind == KindPackage {
			in.Companion = nil
		}
		if r := l.decide(ctx, t, in); r.Outcome != DispatchNone {
			results = append(results, r)
		}
	}

	l.purgeLedger(ctx, kind, entity.ID())
	if kind == KindPackage {
		for _, res := range entity.Resources() {
			if id := res.ID(); id != "" {
				l.purgeLedger(ctx, KindResource, id)
				l.purgeLedger(ctx, KindDatastore, id)
			}
		}
	}
	return results
}

func (l *Lifecycle) purgeLedger(ctx context.Context, kind EntityKind, entityID string) {
	n, err := l.dispatcher.Ledger().PurgeTaskStatuses(ctx, string(kind), entityID, "")
	if err != nil {
		l.logger.Error().Err(err).Str("kind", string(kind)).Str("entity_id", entityID).Msg("failed to purge task statuses")
		return
	}
	if n > 0 {
		l.logger.Debug().Str("kind", string(kind)).Str("entity_id", entityID).Int64("rows", n).Msg("purged task statuses")
	}
}

// UploadCompleted notifies datastore trackers that an upload into the
// resource's datastore finished.
func (l *Lifecycle) UploadCompleted(ctx context.Context, resource, pkg Snapshot, user string) []DispatchResult {
	var results []DispatchResult
	for _, t := range l.registry.GetTrackersByType(KindDatastore) {
		if t.OnUpload == nil {
			continue
		}
		decision := t.OnUpload(ctx, resource, pkg)
		r := l.dispatcher.Dispatch(ctx, t, DispatchRequest{
			Kind:      KindDatastore,
			Phase:     PhaseCreate,
			Decision:  decision,
			Entity:    resource,
			Companion: pkg,
			User:      user,
		})
		if r.Outcome != DispatchNone {
			results = append(results, r)
		}
	}
	return results
}

// Callback lets resource trackers react to another tracker reporting that it
// finished with a resource. The reporting tracker itself is not consulted.
func (l *Lifecycle) Callback(ctx context.Context, source string, state CallbackState, resource, pkg Snapshot, user string) []DispatchResult {
	var results []DispatchResult
	for _, t := range l.registry.GetTrackersByType(KindResource) {
		if t.OnCallback == nil || t.Name == source {
			continue
		}
		decision := t.OnCallback(ctx, state, resource, pkg)
		r := l.dispatcher.Dispatch(ctx, t, DispatchRequest{
			Kind:      KindResource,
			Phase:     PhaseUpdate,
			Decision:  decision,
			Entity:    resource,
			Companion: pkg,
			User:      user,
		})
		if r.Outcome != DispatchNone {
			results = append(results, r)
		}
	}
	return results
}

func (l *Lifecycle) decide(ctx context.Context, t *Tracker, in Input) DispatchResult {
	decision := t.Decide(ctx, in)
	if decision.Enqueues() {
		l.logger.Debug().
			Str("tracker", t.Name).
			Str("kind", string(in.Kind)).
			Str("phase", string(in.Phase)).
			Str("entity_id", in.Entity.ID()).
			Str("decision", decision.String()).
			Msg("acting on lifecycle event")
	}
	return l.dispatcher.Dispatch(ctx, t, DispatchRequest{
		Kind:             in.Kind,
		Phase:            in.Phase,
		Decision:         decision,
		Entity:           in.Entity,
		Companion:        in.Companion,
		Changes:          in.Changes,
		CompanionChanges: in.CompanionChanges,
		User:             in.User,
	})
}

func sortedResourceIDs(resources map[string]Snapshot) []string {
	set := make(map[string]struct{}, len(resources))
	for id := range resources {
		set[id] = struct{}{}
	}
	return sortedKeys(set)
}
