// Package config loads the tracker daemon configuration.
//
// Settings are layered in three steps, each overriding the previous one:
//
//  1. Built-in defaults (DefaultConfig)
//  2. An optional YAML file, given with --config or TRACKER_CONFIG
//  3. Environment variables prefixed with TRACKER_, using a double
//     underscore as the section separator (TRACKER_QUEUE__URL)
//
// The per-tracker settings keep the flat dotted keys CKAN sites already
// use, for example:
//
//	settings:
//	  ckanext.geoserver.redis_job_timeout: "300"
//	  ckanext.geoserver.geoserver.url: http://geoserver:8080/geoserver
//	  ckanext.ckantockan_donl.source_ckan_user: automation
//
// TrackerSettings reads them for one tracker name.
package config
