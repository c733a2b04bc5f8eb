package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// TaskState represents the last known state of work for one tracker on one entity
type TaskState string

const (
	TaskStateCreated  TaskState = "created"
	TaskStatePending  TaskState = "pending"
	TaskStateRunning  TaskState = "running"
	TaskStateComplete TaskState = "complete"
	TaskStateError    TaskState = "error"
)

// Validate checks if the task state is valid. There is no cancelled state;
// a superseding dispatch overwrites the record instead.
func (s TaskState) Validate() error {
	switch s {
	case TaskStateCreated, TaskStatePending, TaskStateRunning, TaskStateComplete, TaskStateError:
		return nil
	default:
		return fmt.Errorf("invalid task state: %q", string(s))
	}
}

// IsWorkerState returns true for states reported by workers.
func (s TaskState) IsWorkerState() bool {
	return s == TaskStateRunning || s == TaskStateComplete || s == TaskStateError
}

// TaskKey is the natural key of a task status record
type TaskKey struct {
	EntityID   string `json:"entity_id" yaml:"entity_id"`
	EntityType string `json:"entity_type" yaml:"entity_type"` // package, resource, datastore
	TaskType   string `json:"task_type" yaml:"task_type"`     // tracker name
}

// String renders the key for logs
func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.EntityType, k.EntityID, k.TaskType)
}

// Validate checks that every key component is present
func (k TaskKey) Validate() error {
	switch {
	case k.EntityID == "":
		return errors.New("task key requires entity_id")
	case k.EntityType == "":
		return errors.New("task key requires entity_type")
	case k.TaskType == "":
		return errors.New("task key requires task_type")
	}
	return nil
}

// TaskValue is stored as JSON in the value column
type TaskValue struct {
	JobID    string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Command  string `json:"job_command,omitempty" yaml:"job_command,omitempty"`
	RemoteID string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
}

// TaskStatus is the live ledger row for one (entity, tracker) pair
type TaskStatus struct {
	ID        string `json:"id" yaml:"id"`
	TaskKey   `yaml:",inline"`
	State     TaskState `json:"state" yaml:"state"`
	Value     TaskValue `json:"value" yaml:"value"`
	Error     *string   `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"last_updated" yaml:"last_updated"`
}

// Revision is one recorded snapshot of an entity at a transaction
type Revision struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	RevisionID string    `json:"revision_id"`
	Snapshot   string    `json:"snapshot"` // JSON blob
	Author     string    `json:"author"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AuditEntry represents an audit trail entry for operator actions
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "task_status.purged", "task_status.reported"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // entity id
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Task status operations
	UpsertTaskStatus(ctx context.Context, status *TaskStatus) (*TaskStatus, error)
	ShowTaskStatus(ctx context.Context, key TaskKey) (*TaskStatus, error)
	ListTaskStatuses(ctx context.Context, entityType, entityID string) ([]*TaskStatus, error)
	PurgeTaskStatuses(ctx context.Context, entityType, entityID, taskType string) (int64, error)

	// Revision operations
	AppendRevision(ctx context.Context, rev *Revision) error
	GetRevisionPair(ctx context.Context, entityType, entityID, revisionID string) (before *Revision, after *Revision, err error)
	PruneRevisions(ctx context.Context, olderThan time.Time) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
