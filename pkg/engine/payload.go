package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// Organization fields copied onto the package payload.
var organizationPayloadFields = []string{"geonetwork_url", "geonetwork_username", "geonetwork_password"}

// PayloadBuilder assembles the positional job arguments. Every host lookup
// may fail independently; a failed lookup contributes nil.
type PayloadBuilder struct {
	source CatalogSource
	logger zerolog.Logger
}

// NewPayloadBuilder creates a payload builder. A nil source disables
// enrichment and the data dictionary.
func NewPayloadBuilder(source CatalogSource, logger zerolog.Logger) *PayloadBuilder {
	return &PayloadBuilder{source: source, logger: logger}
}

// Build returns (configuration, package) for package kind and
// (configuration, package, resource, data dictionary) for the other kinds.
func (b *PayloadBuilder) Build(ctx context.Context, t *Tracker, kind EntityKind, entity, companion Snapshot) []interface{} {
	pkg := entity
	if kind != KindPackage {
		pkg = companion
	}

	configuration := b.configuration(t, kind, entity)

	var pkgData interface{}
	if pkg != nil {
		pkgData = b.enrichPackage(ctx, pkg)
	}

	if !kind.UsesResourcePayload() {
		return []interface{}{configuration, pkgData}
	}

	var resData, dictionary interface{}
	if entity != nil {
		resData = entity.Clone()
		dictionary = b.dataDictionary(ctx, entity.ID())
	}
	return []interface{}{configuration, pkgData, resData, dictionary}
}

func (b *PayloadBuilder) configuration(t *Tracker, kind EntityKind, entity Snapshot) Snapshot {
	conf := t.Configuration.Clone()
	if conf == nil {
		conf = Snapshot{}
	}
	conf["task_type"] = t.Name
	conf["entity_type"] = string(kind)
	conf["entity_id"] = entity.ID()
	conf["source_job_status_field"] = t.StatusField()
	conf["source_job_id_field"] = t.JobIDField()
	return conf
}

// enrichPackage adds license_url and the organization's GeoNetwork settings.
func (b *PayloadBuilder) enrichPackage(ctx context.Context, pkg Snapshot) Snapshot {
	out := pkg.Clone()
	if b.source == nil {
		return out
	}

	out["license_url"] = b.licenseURL(ctx, pkg.String("license_id"))

	org := Snapshot{}
	switch existing := pkg["organization"].(type) {
	case map[string]interface{}:
		org = Snapshot(existing).Clone()
	case Snapshot:
		org = existing.Clone()
	}
	orgID := org.ID()
	if orgID == "" {
		orgID = pkg.String("owner_org")
	}

	var remote Snapshot
	if orgID != "" {
		var err error
		remote, err = b.source.Organization(ctx, orgID)
		if err != nil {
			b.logger.Debug().Err(err).Str("organization", orgID).Msg("organization lookup failed")
			remote = nil
		}
	}
	for _, field := range organizationPayloadFields {
		if remote != nil {
			org[field] = remote[field]
		} else {
			org[field] = nil
		}
	}
	out["organization"] = map[string]interface{}(org)
	return out
}

func (b *PayloadBuilder) licenseURL(ctx context.Context, licenseID string) interface{} {
	if licenseID == "" {
		return nil
	}
	licenses, err := b.source.Licenses(ctx)
	if err != nil {
		b.logger.Debug().Err(err).Msg("license lookup failed")
		return nil
	}
	for _, l := range licenses {
		if l.ID() == licenseID {
			if url := l.String("url"); url != "" {
				return url
			}
			return nil
		}
	}
	return nil
}

func (b *PayloadBuilder) dataDictionary(ctx context.Context, resourceID string) interface{} {
	if b.source == nil || resourceID == "" {
		return nil
	}
	dict, err := b.source.DataDictionary(ctx, resourceID)
	if err != nil {
		b.logger.Debug().Err(err).Str("resource_id", resourceID).Msg("data dictionary lookup failed")
		return nil
	}
	if dict == nil {
		return nil
	}
	return dict
}
