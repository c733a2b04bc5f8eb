// Package stores provides the persistence layer of the tracker service:
// the task status ledger, the entity revision history used for change
// detection, and an audit trail of operator actions.
//
// Two implementations share one schema: SQLiteStore (WAL mode, embedded
// deployments and tests) and PostgresStore (several host processes writing
// to one ledger). Both apply their migrations from an embedded filesystem.
//
// The ledger holds exactly one live row per (entity_id, entity_type,
// task_type). Writes go through a single INSERT ... ON CONFLICT DO UPDATE
// statement so that concurrent dispatches for the same key cannot lose an
// update.
package stores
