package trackers

import (
	"context"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// DefaultGeoServerRequiredFields must be non-empty on a resource before a
// layer is published for it.
var DefaultGeoServerRequiredFields = []string{"layer_srid", "layer_extent"}

// geoServerResourceFields are the resource fields a published layer is
// built from. Changes to anything else never republish.
var geoServerResourceFields = []string{"id", "name", "description", "layer_srid", "layer_extent"}

// FeatureType is the part of a published GeoServer layer the tracker compares
// against the resource.
type FeatureType struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LayerSRID   string    `json:"layer_srid"`
	LayerExtent []float64 `json:"layer_extent"`
}

// FeatureTypeLookup reads a published feature type. A missing feature type
// is reported as nil with no error.
type FeatureTypeLookup interface {
	FeatureType(ctx context.Context, name string) (*FeatureType, error)
}

// GeoServerConfig configures the geoserver tracker.
type GeoServerConfig struct {
	Common
	RequiredFields []string
	LayerPrefix    string
	Privacy        engine.PrivacyPolicy
	// Lookup may be nil, in which case every valid resource is published.
	Lookup FeatureTypeLookup
}

type geoServer struct {
	cfg    GeoServerConfig
	logger zerolog.Logger
}

// NewGeoServer creates the tracker publishing resources as GeoServer layers.
func NewGeoServer(cfg GeoServerConfig, logger zerolog.Logger) *engine.Tracker {
	cfg.Common = cfg.Common.withDefaults("geoserver")
	if len(cfg.RequiredFields) == 0 {
		cfg.RequiredFields = DefaultGeoServerRequiredFields
	}
	if cfg.Privacy == "" {
		cfg.Privacy = engine.PrivacyDeleteOnTransition
	}
	g := &geoServer{cfg: cfg, logger: logger.With().Str("tracker", cfg.Name).Logger()}

	t := cfg.tracker(cfg.descriptor(
		[]engine.EntityKind{engine.KindPackage, engine.KindResource},
		[]engine.Command{CmdCreateDatasource, CmdDeleteDatasource, CmdDeletePackage},
		engine.TrackingOptions{
			ResourceFields: engine.FieldFilter{
				Include: geoServerResourceFields,
				Exclude: []string{FieldWFSURL, FieldWMSURL},
			},
		},
	))
	t.Policies.
		On(engine.KindPackage, engine.PhaseUpdate, g.packageUpdate).
		On(engine.KindPackage, engine.PhaseDelete, g.packageDelete).
		On(engine.KindPackage, engine.PhasePurge, g.packageDelete).
		On(engine.KindResource, engine.PhaseCreate, g.resourceCreate).
		On(engine.KindResource, engine.PhaseUpdate, g.resourceUpdate).
		On(engine.KindResource, engine.PhaseDelete, g.resourceDelete).
		On(engine.KindResource, engine.PhasePurge, g.resourceDelete)
	t.OnCallback = g.callback
	return t
}

func (g *geoServer) validResource(res engine.Snapshot) bool {
	return !isSpatialService(res) && allSet(res, g.cfg.RequiredFields...)
}

func layerExists(res engine.Snapshot) bool {
	return !isSpatialService(res) && allSet(res, FieldWFSURL, FieldWMSURL)
}

func (g *geoServer) packageUpdate(_ context.Context, in engine.Input) engine.Decision {
	pkg := in.Entity
	if !engine.LinkEnabled(pkg, FieldGeoServerLink) && !engine.LinkTurnedOff(pkg, in.Changes, FieldGeoServerLink) {
		return engine.NoAction("link not enabled")
	}
	if ok, reason := g.cfg.Privacy.Corrective(pkg, in.Changes); ok {
		return engine.Compensate(CmdDeletePackage, reason)
	}
	return engine.NoAction("")
}

func (g *geoServer) packageDelete(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(engine.LinkEnabled(in.Entity, FieldGeoServerLink), CmdDeletePackage, "link not enabled")
}

func (g *geoServer) resourceCreate(ctx context.Context, in engine.Input) engine.Decision {
	res := in.Entity
	if !engine.LinkEnabled(in.Companion, FieldGeoServerLink) {
		return engine.NoAction("link not enabled")
	}
	if engine.Hidden(in.Companion) {
		return engine.NoAction(reasonHidden)
	}
	if !g.validResource(res) {
		return engine.NoAction("resource lacks layer metadata")
	}
	if g.cfg.Lookup == nil {
		return engine.Proceed(CmdCreateDatasource)
	}

	ft, err := g.cfg.Lookup.FeatureType(ctx, g.cfg.LayerPrefix+res.ID())
	if err != nil {
		// an unreachable geoserver is treated like a missing layer, the worker upserts
		g.logger.Warn().Err(err).Str("resource_id", res.ID()).Msg("feature type lookup failed")
		return engine.Proceed(CmdCreateDatasource)
	}
	if ft == nil {
		return engine.Proceed(CmdCreateDatasource)
	}
	if !featureTypeMatches(res, ft) {
		return engine.Proceed(CmdCreateDatasource)
	}
	return engine.NoAction("layer up to date")
}

func (g *geoServer) resourceUpdate(_ context.Context, in engine.Input) engine.Decision {
	res := in.Entity
	linked := engine.LinkEnabled(in.Companion, FieldGeoServerLink)
	hidden := engine.Hidden(in.Companion)
	if in.CompanionChanges.Has(FieldGeoServerLink) {
		switch {
		case linked && hidden:
			return engine.NoAction(reasonHidden)
		case linked && g.validResource(res):
			return engine.Proceed(CmdCreateDatasource)
		case !linked && layerExists(res):
			return engine.Proceed(CmdDeleteDatasource)
		}
		return engine.NoAction("")
	}
	if linked && !in.Changes.Empty() {
		if hidden {
			return engine.NoAction(reasonHidden)
		}
		return engine.Proceed(CmdCreateDatasource)
	}
	return engine.NoAction("")
}

func (g *geoServer) resourceDelete(_ context.Context, in engine.Input) engine.Decision {
	return proceedIf(layerExists(in.Entity), CmdDeleteDatasource, "no layer published")
}

func (g *geoServer) callback(_ context.Context, state engine.CallbackState, res, pkg engine.Snapshot) engine.Decision {
	return geoCallback(state, engine.LinkEnabled(pkg, FieldGeoServerLink), engine.Hidden(pkg), g.validResource(res), layerExists(res))
}

// geoCallback is shared by the trackers that follow up on OGR. A hidden
// package never gets a create; deletes still go through.
func geoCallback(state engine.CallbackState, linked, hidden, valid, exists bool) engine.Decision {
	if !linked {
		return engine.NoAction("link not enabled")
	}
	switch state {
	case engine.CallbackCreated:
		if hidden {
			return engine.NoAction(reasonHidden)
		}
		return proceedIf(valid, CmdCreateDatasource, "")
	case engine.CallbackUpdated:
		if valid {
			if hidden {
				return engine.NoAction(reasonHidden)
			}
			return engine.Proceed(CmdCreateDatasource)
		}
		return proceedIf(exists, CmdDeleteDatasource, "")
	case engine.CallbackDeleted:
		return proceedIf(exists, CmdDeleteDatasource, "")
	default:
		return engine.NoAction("")
	}
}

func featureTypeMatches(res engine.Snapshot, ft *FeatureType) bool {
	if res.String("name") != ft.Name || res.String("description") != ft.Description {
		return false
	}
	if res.String("layer_srid") != ft.LayerSRID {
		return false
	}
	extent, ok := parseExtent(res["layer_extent"])
	return ok && extentsEqual(extent, ft.LayerExtent)
}

// extentsEqual compares bounding boxes at ten decimals, the precision OGR and
// GeoServer agree on.
func extentsEqual(a, b []float64) bool {
	if len(a) != 4 || len(b) != 4 {
		return false
	}
	for i := range a {
		if strconv.FormatFloat(a[i], 'f', 10, 64) != strconv.FormatFloat(b[i], 'f', 10, 64) {
			return false
		}
	}
	return true
}

// parseExtent accepts the extent as a JSON encoded string or a decoded list.
func parseExtent(v interface{}) ([]float64, bool) {
	switch t := v.(type) {
	case []float64:
		return t, true
	case string:
		var out []float64
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, false
		}
		return out, true
	case []interface{}:
		out := make([]float64, 0, len(t))
		for _, item := range t {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}
