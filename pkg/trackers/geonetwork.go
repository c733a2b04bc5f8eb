package trackers

import (
	"context"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// GeoNetworkConfig configures the geonetwork tracker.
type GeoNetworkConfig struct {
	Common
	// Privacy decides when a linked package that went private or back to
	// draft loses its records. Defaults to delete on transition.
	Privacy engine.PrivacyPolicy
}

type geoNetwork struct {
	cfg GeoNetworkConfig
}

// NewGeoNetwork creates the tracker registering published layers as
// GeoNetwork metadata records. It follows GeoServer: a resource is only
// registered once its WFS and WMS urls are known.
func NewGeoNetwork(cfg GeoNetworkConfig) *engine.Tracker {
	cfg.Common = cfg.Common.withDefaults("geonetwork")
	if cfg.Privacy == "" {
		cfg.Privacy = engine.PrivacyDeleteOnTransition
	}
	g := &geoNetwork{cfg: cfg}

	t := cfg.tracker(cfg.descriptor(
		[]engine.EntityKind{engine.KindPackage, engine.KindResource},
		[]engine.Command{CmdCreateDatasource, CmdDeleteDatasource, CmdDeletePackage},
		engine.TrackingOptions{
			ResourceFields: engine.FieldFilter{Exclude: []string{FieldWFSURL, FieldWMSURL}},
		},
	))
	t.Policies.
		On(engine.KindPackage, engine.PhaseUpdate, g.packageUpdate).
		On(engine.KindPackage, engine.PhaseDelete, geoNetworkPackageDelete).
		On(engine.KindPackage, engine.PhasePurge, geoNetworkPackageDelete).
		On(engine.KindResource, engine.PhaseUpdate, geoNetworkResourceUpdate).
		On(engine.KindResource, engine.PhaseDelete, geoNetworkResourceDelete).
		On(engine.KindResource, engine.PhasePurge, geoNetworkResourceDelete)
	t.OnCallback = func(_ context.Context, state engine.CallbackState, res, pkg engine.Snapshot) engine.Decision {
		return geoCallback(state, engine.LinkEnabled(pkg, FieldGeoNetworkLink), engine.Hidden(pkg), hasServices(res), res.NonEmpty(FieldGeoNetworkURL))
	}
	return t
}

func hasServices(res engine.Snapshot) bool {
	return allSet(res, FieldWFSURL, FieldWMSURL)
}

// packageUpdate removes the records of a linked package once it is hidden.
func (g *geoNetwork) packageUpdate(_ context.Context, in engine.Input) engine.Decision {
	pkg := in.Entity
	if !engine.LinkEnabled(pkg, FieldGeoNetworkLink) {
		return engine.NoAction("link not enabled")
	}
	if ok, reason := g.cfg.Privacy.Corrective(pkg, in.Changes); ok {
		return engine.Compensate(CmdDeletePackage, reason)
	}
	return engine.NoAction("")
}

func geoNetworkPackageDelete(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(engine.LinkEnabled(in.Entity, FieldGeoNetworkLink), CmdDeletePackage, "link not enabled")
}

func geoNetworkResourceUpdate(_ context.Context, in engine.Input) engine.Decision {
	if !in.CompanionChanges.Has(FieldGeoNetworkLink) {
		return engine.NoAction("")
	}
	res := in.Entity
	linked := engine.LinkEnabled(in.Companion, FieldGeoNetworkLink)
	switch {
	case linked && engine.Hidden(in.Companion):
		return engine.NoAction(reasonHidden)
	case linked && hasServices(res):
		return engine.Proceed(CmdCreateDatasource)
	case !linked && res.NonEmpty(FieldGeoNetworkURL):
		return engine.Proceed(CmdDeleteDatasource)
	default:
		return engine.NoAction("")
	}
}

func geoNetworkResourceDelete(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(in.Entity.NonEmpty(FieldGeoNetworkURL), CmdDeleteDatasource, "no record registered")
}
