package engine

import (
	"context"
	"time"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

// CatalogSource supplies read-only snapshots from the host catalog.
// Lookups of missing entities return an error matching ErrNotFound.
type CatalogSource interface {
	// Show returns the current snapshot of a package or resource.
	Show(ctx context.Context, kind EntityKind, id string) (Snapshot, error)

	// DataDictionary returns the datastore field definitions of a resource.
	DataDictionary(ctx context.Context, resourceID string) (Snapshot, error)

	// Licenses returns the license register of the catalog.
	Licenses(ctx context.Context) ([]Snapshot, error)

	// Organization returns the organization owning a package.
	Organization(ctx context.Context, id string) (Snapshot, error)
}

// PackagePatcher writes fields back onto a package in the host catalog.
type PackagePatcher interface {
	PatchPackage(ctx context.Context, id string, fields map[string]interface{}) error
}

// Ledger is the task status ledger as seen by the dispatch pipeline.
// stores.Store satisfies it.
type Ledger interface {
	UpsertTaskStatus(ctx context.Context, status *stores.TaskStatus) (*stores.TaskStatus, error)
	ShowTaskStatus(ctx context.Context, key stores.TaskKey) (*stores.TaskStatus, error)
	ListTaskStatuses(ctx context.Context, entityType, entityID string) ([]*stores.TaskStatus, error)
	PurgeTaskStatuses(ctx context.Context, entityType, entityID, taskType string) (int64, error)
}

// Queue hands a job to the broker. Enqueue must not wait for execution.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, job *Job) error
}

// EnqueueHook is a before-enqueue extension point shared by all trackers.
// It runs ahead of the tracker's own BeforeEnqueue.
type EnqueueHook interface {
	BeforeEnqueue(ctx context.Context, job *Job, in Input) Decision
}

// EnqueueHookFunc adapts a function to EnqueueHook.
type EnqueueHookFunc func(ctx context.Context, job *Job, in Input) Decision

// BeforeEnqueue calls f.
func (f EnqueueHookFunc) BeforeEnqueue(ctx context.Context, job *Job, in Input) Decision {
	return f(ctx, job, in)
}

// DispatchObserver receives one notification per dispatch and per enqueue
// attempt. Implementations must be safe for concurrent use.
type DispatchObserver interface {
	ObserveDispatch(tracker string, kind EntityKind, outcome DispatchOutcome)
	ObserveEnqueue(tracker string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDispatch(string, EntityKind, DispatchOutcome) {}
func (nopObserver) ObserveEnqueue(string, time.Duration, error)         {}
