package trackers

import (
	"context"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// DatastoreGeoServerConfig configures the datastore_geoserver tracker.
type DatastoreGeoServerConfig struct {
	Common
}

// NewDatastoreGeoServer creates the tracker publishing a layer as soon as an
// upload into a resource's datastore completed. It shares the geoserver queue.
func NewDatastoreGeoServer(cfg DatastoreGeoServerConfig) *engine.Tracker {
	if cfg.Queue == "" {
		cfg.Queue = "geoserver"
	}
	cfg.Common = cfg.Common.withDefaults("datastore_geoserver")

	t := cfg.tracker(cfg.descriptor(
		[]engine.EntityKind{engine.KindDatastore},
		[]engine.Command{CmdCreateDatasource},
		engine.TrackingOptions{IgnorePackages: true},
	))
	t.OnUpload = func(_ context.Context, res, pkg engine.Snapshot) engine.Decision {
		if !engine.LinkEnabled(pkg, FieldGeoServerLink) {
			return engine.NoAction("link not enabled")
		}
		return proceedIf(!isSpatialService(res), CmdCreateDatasource, "resource is a spatial service")
	}
	return t
}
