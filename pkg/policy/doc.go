// Package policy evaluates operator supplied Rego rules before a job is
// enqueued.
//
// Rules are ordinary Rego modules that add messages to the skip set of one
// package, "tracker" by default. When the set is non-empty for a job, the
// dispatch is vetoed as a skip carrying the sorted messages as its reason.
// Rules never change a command and never touch the ledger.
//
// # Input
//
// Every evaluation sees:
//
//	{
//	  "tracker":   "geoserver",
//	  "kind":      "resource",
//	  "phase":     "update",
//	  "command":   "update_datasource",
//	  "queue":     "geoserver",
//	  "entity_id": "r1",
//	  "entity":    {...},   // resource snapshot, or the package on package jobs
//	  "companion": {...},   // owning package on resource and datastore jobs
//	  "user":      "alice"
//	}
//
// # Writing rules
//
//	package tracker
//
//	import rego.v1
//
//	skip contains "test organization" if {
//		input.kind == "package"
//		input.entity.organization.name == "test"
//	}
//
// Files ending in _test.rego are ignored by the loader.
//
// # Usage
//
//	eng, err := policy.NewEngine(policy.Options{
//		Builtins: []string{policy.BuiltinSkipMissingID},
//	}, logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/ckanext-tracker/rules"}); err != nil {
//		return err
//	}
//	dispatcher.Use(eng)
//
// Engine.Watch reloads the rule files when they change. A reload that fails
// to compile keeps the previous rules.
package policy
