package trackers

import (
	"strings"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Worker commands. Workers pattern-match on these names.
const (
	CmdCreatePackage    engine.Command = "create_package"
	CmdUpsertPackage    engine.Command = "upsert_package"
	CmdDeletePackage    engine.Command = "delete_package"
	CmdPurgePackage     engine.Command = "purge_package"
	CmdCreateDatasource engine.Command = "create_datasource"
	CmdDeleteDatasource engine.Command = "delete_datasource"
	CmdCreateResource   engine.Command = "create_resource"
	CmdDeleteResource   engine.Command = "delete_resource"
)

// Link flag fields on packages.
const (
	FieldGeoServerLink    = "geoserver_link_enabled"
	FieldGeoNetworkLink   = "geonetwork_link_enabled"
	FieldDONLLink         = "donl_link_enabled"
	FieldDataplatformLink = "dataplatform_link_enabled"
)

// Resource fields written back by the geo workers.
const (
	FieldWFSURL        = "wfs_url"
	FieldWMSURL        = "wms_url"
	FieldGeoNetworkURL = "geonetwork_url"
)

// reasonHidden is the no-action reason for creates on private or draft packages.
const reasonHidden = "package is private or a draft"

// DefaultSyncUser is the host account CKAN-to-CKAN workers write back with.
const DefaultSyncUser = "automation"

// Common carries the settings every tracker shares.
type Common struct {
	Name       string
	Queue      string
	BadgeTitle string
	ShowUI     bool
	ShowBadge  bool
	Job        engine.JobSettings
	// Configuration is handed to workers as the first job argument.
	Configuration engine.Snapshot
}

func (c Common) withDefaults(name string) Common {
	if c.Name == "" {
		c.Name = name
	}
	if c.Queue == "" {
		c.Queue = c.Name
	}
	return c
}

func (c Common) descriptor(kinds []engine.EntityKind, commands []engine.Command, opts engine.TrackingOptions) engine.Descriptor {
	return engine.Descriptor{
		Name:       c.Name,
		Queue:      c.Queue,
		BadgeTitle: c.BadgeTitle,
		ShowUI:     c.ShowUI,
		ShowBadge:  c.ShowBadge,
		Kinds:      kinds,
		Commands:   commands,
		Options:    opts,
	}
}

func (c Common) tracker(d engine.Descriptor) *engine.Tracker {
	return &engine.Tracker{
		Descriptor:    d,
		Settings:      c.Job,
		Configuration: c.Configuration,
		Policies:      engine.Policies{},
	}
}

// isSpatialService reports whether the resource already is a WMS or WFS
// endpoint, which the geo workers never publish again.
func isSpatialService(res engine.Snapshot) bool {
	switch strings.ToLower(res.String("format")) {
	case "wms", "wfs":
		return true
	default:
		return false
	}
}

func allSet(s engine.Snapshot, fields ...string) bool {
	for _, f := range fields {
		if !s.NonEmpty(f) {
			return false
		}
	}
	return true
}

func isDeleteCommand(cmd engine.Command) bool {
	return cmd == CmdDeletePackage || cmd == CmdPurgePackage
}

func proceedIf(ok bool, cmd engine.Command, reason string) engine.Decision {
	if ok {
		return engine.Proceed(cmd)
	}
	return engine.NoAction(reason)
}
