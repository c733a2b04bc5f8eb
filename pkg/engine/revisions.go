package engine

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

// RevisionStore is the part of stores.Store that keeps entity history.
type RevisionStore interface {
	AppendRevision(ctx context.Context, rev *stores.Revision) error
	GetRevisionPair(ctx context.Context, entityType, entityID, revisionID string) (*stores.Revision, *stores.Revision, error)
}

// StoreRevisions resolves transactions against the revision table.
type StoreRevisions struct {
	store RevisionStore
}

// NewStoreRevisions wraps a revision store.
func NewStoreRevisions(store RevisionStore) *StoreRevisions {
	return &StoreRevisions{store: store}
}

// Record appends the snapshot of an entity as of a transaction.
func (r *StoreRevisions) Record(ctx context.Context, kind EntityKind, snapshot Snapshot, transactionID, author string) error {
	if snapshot.ID() == "" {
		return NewValidationError("snapshot has no id")
	}
	if transactionID == "" {
		return ErrNoTransaction
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return r.store.AppendRevision(ctx, &stores.Revision{
		EntityType: string(kind),
		EntityID:   snapshot.ID(),
		RevisionID: transactionID,
		Snapshot:   string(data),
		Author:     author,
	})
}

// RevisionPair implements RevisionSource.
func (r *StoreRevisions) RevisionPair(ctx context.Context, kind EntityKind, entityID, transactionID string) (Snapshot, Snapshot, error) {
	beforeRev, afterRev, err := r.store.GetRevisionPair(ctx, string(kind), entityID, transactionID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	after, err := decodeSnapshot(afterRev)
	if err != nil {
		return nil, nil, err
	}
	before, err := decodeSnapshot(beforeRev)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func decodeSnapshot(rev *stores.Revision) (Snapshot, error) {
	if rev == nil {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(rev.Snapshot), &s); err != nil {
		return nil, fmt.Errorf("failed to decode revision %d: %w", rev.ID, err)
	}
	return s, nil
}
