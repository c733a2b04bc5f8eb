// Package trackers holds the tracker catalogue: one constructor per external
// integration, each returning an engine.Tracker with its decision table and
// enqueue hooks.
//
// Build and Register create the trackers listed in the daemon configuration,
// reading their ckanext.<name>.* settings.
package trackers
