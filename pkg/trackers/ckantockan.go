package trackers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// FeedbackEnqueued is the status written back onto a package once its
// replication job is on the queue. Workers raise it to 2xx or higher.
const FeedbackEnqueued = 100

// CKANToCKANConfig configures a tracker replicating packages to another CKAN.
type CKANToCKANConfig struct {
	Common
	// SyncUser is the account the replication workers write back with.
	// Changes made by it are never replicated again.
	SyncUser        string
	SourceHost      string
	RemoteHost      string
	Privacy         engine.PrivacyPolicy
	Patcher         engine.PackagePatcher
	DisableFeedback bool
}

func (c CKANToCKANConfig) withDefaults(name, badge string, privacy engine.PrivacyPolicy) CKANToCKANConfig {
	c.Common = c.Common.withDefaults(name)
	if c.BadgeTitle == "" {
		c.BadgeTitle = badge
	}
	if c.SyncUser == "" {
		c.SyncUser = DefaultSyncUser
	}
	if c.Privacy == "" {
		c.Privacy = privacy
	}
	if c.Configuration == nil {
		c.Configuration = engine.Snapshot{}
	} else {
		c.Configuration = c.Configuration.Clone()
	}
	c.Configuration["source_ckan_user"] = c.SyncUser
	if c.SourceHost != "" {
		c.Configuration["source_ckan_host"] = c.SourceHost
	}
	if c.RemoteHost != "" {
		c.Configuration["remote_ckan_host"] = c.RemoteHost
	}
	return c
}

func (c CKANToCKANConfig) newTracker() *engine.Tracker {
	statusField, jobField := c.Name+"_status", c.Name+"_job_id"
	return c.tracker(c.descriptor(
		[]engine.EntityKind{engine.KindPackage},
		[]engine.Command{CmdUpsertPackage, CmdPurgePackage},
		engine.TrackingOptions{
			IgnoreResources: true,
			// feedback fields are written by the workers themselves
			PackageFields: engine.FieldFilter{Exclude: []string{statusField, jobField}},
		},
	))
}

// feedback writes the enqueued status and job id back onto the package.
func feedback(patcher engine.PackagePatcher, logger zerolog.Logger) engine.AfterEnqueueFunc {
	return func(ctx context.Context, job *engine.Job, in engine.Input) error {
		pkg := in.Package()
		name := pkg.String("name")
		if patcher == nil || name == "" {
			return nil
		}
		fields := map[string]interface{}{
			job.Tracker + "_status": FeedbackEnqueued,
			job.Tracker + "_job_id": job.ID,
		}
		if err := patcher.PatchPackage(ctx, name, fields); err != nil {
			logger.Warn().Err(err).Str("package", name).Str("job_id", job.ID).Msg("failed to write feedback")
			return err
		}
		return nil
	}
}

type donl struct {
	cfg CKANToCKANConfig
}

// NewDONL creates the tracker replicating packages to data.overheid.nl.
// Packages also published through GeoNetwork reach DONL by harvesting and
// are left alone.
func NewDONL(cfg CKANToCKANConfig, logger zerolog.Logger) *engine.Tracker {
	cfg = cfg.withDefaults("ckantockan_donl", "DONL", engine.PrivacyDeleteWhenPrivate)
	d := &donl{cfg: cfg}

	t := cfg.newTracker()
	t.Policies.
		On(engine.KindPackage, engine.PhaseCreate, d.upsert).
		On(engine.KindPackage, engine.PhaseUpdate, d.upsert).
		On(engine.KindPackage, engine.PhaseDelete, d.remove).
		On(engine.KindPackage, engine.PhasePurge, d.remove)
	t.BeforeEnqueue = d.beforeEnqueue
	if !cfg.DisableFeedback {
		t.AfterEnqueue = feedback(cfg.Patcher, logger.With().Str("tracker", cfg.Name).Logger())
	}
	return t
}

func shouldLinkDONL(pkg engine.Snapshot) bool {
	return engine.LinkEnabled(pkg, FieldDONLLink) && !engine.LinkEnabled(pkg, FieldGeoNetworkLink)
}

func (d *donl) upsert(_ context.Context, in engine.Input) engine.Decision {
	pkg := in.Entity
	switch {
	case !engine.HasID(pkg):
		return engine.NoAction("no package id")
	case engine.IsDraft(pkg):
		return engine.NoAction("package is a draft")
	case !shouldLinkDONL(pkg):
		if engine.LinkTurnedOff(pkg, in.Changes, FieldDONLLink) && engine.WentHidden(pkg, in.Changes) {
			return engine.Compensate(CmdPurgePackage, "link turned off while going private")
		}
		return engine.NoAction("link not enabled")
	}
	if engine.IsPrivate(pkg) {
		if ok, reason := d.cfg.Privacy.Corrective(pkg, in.Changes); ok {
			return engine.Compensate(CmdPurgePackage, reason)
		}
		return engine.NoAction("package is private")
	}
	return engine.Proceed(CmdUpsertPackage)
}

func (d *donl) remove(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(shouldLinkDONL(in.Entity), CmdPurgePackage, "link not enabled")
}

func (d *donl) beforeEnqueue(_ context.Context, job *engine.Job, in engine.Input) engine.Decision {
	if in.User != "" && in.User == d.cfg.SyncUser {
		return engine.Skip("change made by the sync user")
	}
	pkg := in.Package()
	if isDeleteCommand(job.Command) {
		return engine.Proceed(job.Command)
	}
	if !shouldLinkDONL(pkg) {
		return engine.Skip("link not enabled")
	}
	if d.cfg.Privacy == engine.PrivacyDeleteWhenPrivate && engine.IsPrivate(pkg) && !engine.IsDraft(pkg) {
		return engine.Compensate(CmdPurgePackage, "package is private")
	}
	return engine.Proceed(job.Command)
}

type oneCKAN struct {
	cfg CKANToCKANConfig
}

// NewOneCKAN creates the tracker replicating catalogue packages to the
// dataplatform.
func NewOneCKAN(cfg CKANToCKANConfig, logger zerolog.Logger) *engine.Tracker {
	cfg = cfg.withDefaults("ckantockan_oneckan", "Dataplatform", engine.PrivacyDeleteOnTransition)
	o := &oneCKAN{cfg: cfg}

	t := cfg.newTracker()
	t.Policies.
		On(engine.KindPackage, engine.PhaseCreate, o.create).
		On(engine.KindPackage, engine.PhaseUpdate, o.update).
		On(engine.KindPackage, engine.PhaseDelete, o.remove).
		On(engine.KindPackage, engine.PhasePurge, o.remove)
	t.BeforeEnqueue = o.beforeEnqueue
	if !cfg.DisableFeedback {
		t.AfterEnqueue = feedback(cfg.Patcher, logger.With().Str("tracker", cfg.Name).Logger())
	}
	return t
}

func linkedDataplatform(pkg engine.Snapshot) bool {
	return engine.LinkEnabled(pkg, FieldDataplatformLink)
}

func (o *oneCKAN) create(_ context.Context, in engine.Input) engine.Decision {
	pkg := in.Entity
	switch {
	case !engine.HasID(pkg):
		return engine.NoAction("no package id")
	case engine.IsDraft(pkg):
		return engine.NoAction("package is a draft")
	case engine.IsPrivate(pkg):
		return engine.NoAction("package is private")
	case !linkedDataplatform(pkg):
		return engine.NoAction("link not enabled")
	}
	return engine.Proceed(CmdUpsertPackage)
}

func (o *oneCKAN) update(_ context.Context, in engine.Input) engine.Decision {
	pkg, changes := in.Entity, in.Changes
	if changes.Empty() {
		return engine.NoAction("no package changes")
	}

	linked := linkedDataplatform(pkg)
	unlinked := engine.LinkTurnedOff(pkg, changes, FieldDataplatformLink)
	if !linked && !unlinked {
		return engine.NoAction("link not enabled")
	}
	if ok, reason := o.cfg.Privacy.Corrective(pkg, changes); ok {
		return engine.Compensate(CmdPurgePackage, reason)
	}
	if unlinked {
		return engine.Compensate(CmdPurgePackage, "link turned off")
	}
	if engine.Hidden(pkg) {
		return engine.NoAction(reasonHidden)
	}
	return engine.Proceed(CmdUpsertPackage)
}

func (o *oneCKAN) remove(_ context.Context, in engine.Input) engine.Decision {
	pkg := in.Entity
	ok := !engine.IsDraft(pkg) && !engine.IsPrivate(pkg) && linkedDataplatform(pkg)
	return proceedIf(ok, CmdPurgePackage, "package was never replicated")
}

func (o *oneCKAN) beforeEnqueue(_ context.Context, job *engine.Job, in engine.Input) engine.Decision {
	pkg := in.Package()
	if in.User != "" && in.User == o.cfg.SyncUser {
		return engine.Skip("change made by the sync user")
	}
	if !engine.HasID(pkg) {
		return engine.Skip("no package id")
	}
	if isDeleteCommand(job.Command) {
		return engine.Proceed(job.Command)
	}
	if engine.IsDraft(pkg) {
		return engine.Skip("package is a draft")
	}
	if !linkedDataplatform(pkg) || engine.IsPrivate(pkg) {
		return engine.Compensate(CmdPurgePackage, "package must not be on the dataplatform")
	}
	return engine.Proceed(job.Command)
}
