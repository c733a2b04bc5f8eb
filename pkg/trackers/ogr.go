package trackers

import (
	"context"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// OGRResourceFields are the resource fields whose change means the source
// file has to be loaded into the datastore again.
var OGRResourceFields = []string{"url", "size", "hash", "format"}

// OGRConfig configures the ogr tracker.
type OGRConfig struct {
	Common
}

// NewOGR creates the tracker loading resource files into the datastore.
// It tracks resources only, independently of their package.
func NewOGR(cfg OGRConfig) *engine.Tracker {
	cfg.Common = cfg.Common.withDefaults("ogr")

	t := cfg.tracker(cfg.descriptor(
		[]engine.EntityKind{engine.KindResource},
		[]engine.Command{CmdCreateResource, CmdDeleteResource},
		engine.TrackingOptions{
			IgnorePackages:   true,
			SeparateTracking: true,
			ResourceFields:   engine.FieldFilter{Include: OGRResourceFields},
		},
	))
	t.Policies.
		On(engine.KindResource, engine.PhaseCreate, ogrLoad).
		On(engine.KindResource, engine.PhaseUpdate, ogrReload).
		On(engine.KindResource, engine.PhaseDelete, ogrDrop).
		On(engine.KindResource, engine.PhasePurge, ogrDrop)
	return t
}

func ogrLoad(_ context.Context, _ engine.Input) engine.Decision {
	return engine.Proceed(CmdCreateResource)
}

func ogrReload(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(!in.Changes.Empty(), CmdCreateResource, "source unchanged")
}

func ogrDrop(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(in.Entity.Bool("datastore_active"), CmdDeleteResource, "no datastore table")
}
