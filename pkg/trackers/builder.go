package trackers

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/config"
	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Tracker names accepted in the trackers list.
const (
	NameGeoServer          = "geoserver"
	NameGeoNetwork         = "geonetwork"
	NameOGR                = "ogr"
	NameDONL               = "ckantockan_donl"
	NameOneCKAN            = "ckantockan_oneckan"
	NameDatastoreGeoServer = "datastore_geoserver"
)

// Dependencies are the collaborators trackers may need at build time.
type Dependencies struct {
	// Patcher writes the CKAN-to-CKAN feedback fields.
	Patcher engine.PackagePatcher
	// HTTPClient is used for GeoServer lookups; nil uses a default client.
	HTTPClient *http.Client
}

// showBadgeDefaults turns the badge on for trackers that show one unless
// show_badge says otherwise.
var showBadgeDefaults = map[string]bool{
	NameDONL:    true,
	NameOneCKAN: true,
}

type factory func(s config.TrackerSettings, common Common, deps Dependencies, logger zerolog.Logger) (*engine.Tracker, error)

var factories = map[string]factory{
	NameGeoServer:          buildGeoServer,
	NameGeoNetwork:         buildGeoNetwork,
	NameOGR:                buildOGR,
	NameDONL:               buildCKANToCKAN(NewDONL),
	NameOneCKAN:            buildCKANToCKAN(NewOneCKAN),
	NameDatastoreGeoServer: buildDatastoreGeoServer,
}

// Known returns the names Build understands, sorted.
func Known() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates every tracker enabled in cfg, in configuration order.
func Build(cfg *config.Config, deps Dependencies, logger zerolog.Logger) ([]*engine.Tracker, error) {
	trackers := make([]*engine.Tracker, 0, len(cfg.Trackers))
	for _, name := range cfg.Trackers {
		build, ok := factories[name]
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("unknown tracker %q", name)).
				WithDetail("known", Known())
		}

		s := cfg.Tracker(name)
		common, err := commonFromSettings(s)
		if err != nil {
			return nil, err
		}
		t, err := build(s, common, deps, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build tracker %s: %w", name, err)
		}
		trackers = append(trackers, t)
	}
	return trackers, nil
}

// Register builds the enabled trackers into the registry.
func Register(registry *engine.Registry, cfg *config.Config, deps Dependencies, logger zerolog.Logger) error {
	trackers, err := Build(cfg, deps, logger)
	if err != nil {
		return err
	}
	for _, t := range trackers {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func commonFromSettings(s config.TrackerSettings) (Common, error) {
	job, err := s.Job()
	if err != nil {
		return Common{}, err
	}
	return Common{
		Name:          s.Name(),
		Queue:         s.String(config.KeyQueueName, ""),
		BadgeTitle:    s.String(config.KeyBadgeTitle, ""),
		ShowUI:        s.Bool(config.KeyShowUI, true),
		ShowBadge:     s.Bool(config.KeyShowBadge, showBadgeDefaults[s.Name()]),
		Job:           job,
		Configuration: s.Snapshot(),
	}, nil
}

func buildGeoServer(s config.TrackerSettings, common Common, deps Dependencies, logger zerolog.Logger) (*engine.Tracker, error) {
	privacy, err := s.Privacy(engine.PrivacyDeleteOnTransition)
	if err != nil {
		return nil, err
	}
	cfg := GeoServerConfig{
		Common:         common,
		RequiredFields: s.List("geoserver.required_fields", nil),
		LayerPrefix:    s.String("geoserver.layer_prefix", ""),
		Privacy:        privacy,
	}
	if u := s.String("geoserver.url", ""); u != "" {
		cfg.Lookup = NewGeoServerREST(GeoServerRESTConfig{
			URL:       u,
			Workspace: s.String("geoserver.workspace", "ckan"),
			Datastore: s.String("geoserver.datastore", "datastore"),
			Username:  s.String("geoserver.username", ""),
			Password:  s.String("geoserver.password", ""),
		}, deps.HTTPClient)
	}
	return NewGeoServer(cfg, logger), nil
}

func buildGeoNetwork(s config.TrackerSettings, common Common, _ Dependencies, _ zerolog.Logger) (*engine.Tracker, error) {
	privacy, err := s.Privacy(engine.PrivacyDeleteOnTransition)
	if err != nil {
		return nil, err
	}
	return NewGeoNetwork(GeoNetworkConfig{Common: common, Privacy: privacy}), nil
}

func buildOGR(_ config.TrackerSettings, common Common, _ Dependencies, _ zerolog.Logger) (*engine.Tracker, error) {
	return NewOGR(OGRConfig{Common: common}), nil
}

func buildDatastoreGeoServer(_ config.TrackerSettings, common Common, _ Dependencies, _ zerolog.Logger) (*engine.Tracker, error) {
	return NewDatastoreGeoServer(DatastoreGeoServerConfig{Common: common}), nil
}

func buildCKANToCKAN(newTracker func(CKANToCKANConfig, zerolog.Logger) *engine.Tracker) factory {
	return func(s config.TrackerSettings, common Common, deps Dependencies, logger zerolog.Logger) (*engine.Tracker, error) {
		// the tracker picks its own default when the key is unset
		privacy, err := s.Privacy("")
		if err != nil {
			return nil, err
		}
		return newTracker(CKANToCKANConfig{
			Common:          common,
			SyncUser:        s.String("source_ckan_user", DefaultSyncUser),
			SourceHost:      s.String("source_ckan_host", ""),
			RemoteHost:      s.String("remote_ckan_host", ""),
			Privacy:         privacy,
			Patcher:         deps.Patcher,
			DisableFeedback: s.Bool("disable_feedback", false),
		}, logger), nil
	}
}
