package engine

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/rs/zerolog"
)

// Bookkeeping fields that change as a side effect of unrelated operations.
var (
	DefaultPackageExclusions  = []string{"metadata_modified", "revision_id"}
	DefaultResourceExclusions = []string{"last_modified", "metadata_modified", "revision_id"}
)

// FieldFilter narrows which fields take part in a comparison. A nil Include
// means every field. Exclude is always applied after Include.
type FieldFilter struct {
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Merge returns a filter excluding the receiver's fields plus extra.
func (f FieldFilter) Merge(extra ...string) FieldFilter {
	out := FieldFilter{Include: f.Include}
	out.Exclude = append(append([]string{}, f.Exclude...), extra...)
	return out
}

func (f FieldFilter) keys(before, after Snapshot) []string {
	set := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		set[k] = struct{}{}
	}
	for k := range after {
		set[k] = struct{}{}
	}
	if f.Include != nil {
		allowed := make(map[string]struct{}, len(f.Include))
		for _, k := range f.Include {
			allowed[k] = struct{}{}
		}
		for k := range set {
			if _, ok := allowed[k]; !ok {
				delete(set, k)
			}
		}
	}
	for _, k := range f.Exclude {
		delete(set, k)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CompareSnapshots returns the field-level changes between two snapshots.
// A nil before yields the "everything is new" change set. A nil after yields
// an empty change set, since there is nothing to compare against.
func CompareSnapshots(before, after Snapshot, filter FieldFilter) ChangeSet {
	result := ChangeSet{}
	if after == nil {
		return result
	}
	for _, key := range filter.keys(before, after) {
		oldVal, hasOld := before[key]
		newVal, hasNew := after[key]
		switch {
		case hasOld && !hasNew:
			result[key] = FieldChange{Old: oldVal, HasOld: true}
		case !hasOld && hasNew:
			result[key] = FieldChange{New: newVal, HasNew: true}
		case !valuesEqual(oldVal, newVal):
			result[key] = FieldChange{Old: oldVal, New: newVal, HasOld: true, HasNew: true}
		}
	}
	return result
}

// valuesEqual compares decoded values, treating numeric types alike so a
// snapshot read from JSON compares equal to one built in Go.
func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case Snapshot:
		return normalize(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []int:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = float64(val)
		}
		return out
	case []float64:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

// HasBeenDeleted reports whether the entity is deleted and this transaction deleted it.
func HasBeenDeleted(s Snapshot, changes ChangeSet) bool {
	return s.State() == StateDeleted && changes.Has("state")
}

// ResourcePartition splits resources relative to one transaction. The three
// sets are disjoint and sorted.
type ResourcePartition struct {
	Inserted []string `json:"inserted"`
	Deleted  []string `json:"deleted"`
	Same     []string `json:"same"`
}

func idsInState(resources map[string]Snapshot, state string) map[string]struct{} {
	out := make(map[string]struct{})
	for id, r := range resources {
		if r.State() == state {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PartitionResources classifies resources as newly active, newly deleted or
// active on both sides.
func PartitionResources(before, after map[string]Snapshot) ResourcePartition {
	beforeActive := idsInState(before, StateActive)
	afterActive := idsInState(after, StateActive)
	afterDeleted := idsInState(after, StateDeleted)

	inserted := make(map[string]struct{})
	same := make(map[string]struct{})
	deleted := make(map[string]struct{})
	for id := range afterActive {
		if _, ok := beforeActive[id]; ok {
			same[id] = struct{}{}
		} else {
			inserted[id] = struct{}{}
		}
	}
	for id := range afterDeleted {
		if _, ok := beforeActive[id]; ok {
			deleted[id] = struct{}{}
		}
	}
	return ResourcePartition{
		Inserted: sortedKeys(inserted),
		Deleted:  sortedKeys(deleted),
		Same:     sortedKeys(same),
	}
}

// PackageDiff is the full comparison of a package with its embedded resources.
type PackageDiff struct {
	Before          Snapshot
	After           Snapshot
	BeforeResources map[string]Snapshot
	AfterResources  map[string]Snapshot
	Package         ChangeSet
	// Resources holds non-empty change sets of resources active on both sides.
	Resources map[string]ChangeSet
	Partition ResourcePartition
}

// Created reports whether the package did not exist before the transaction.
func (d *PackageDiff) Created() bool {
	return d.Before == nil && d.After != nil
}

// Deleted reports whether the transaction deleted the package.
func (d *PackageDiff) Deleted() bool {
	return d.Before != nil && d.After != nil && HasBeenDeleted(d.After, d.Package)
}

// RevisionSource resolves the snapshot of an entity at a transaction and the
// latest snapshot recorded before it.
type RevisionSource interface {
	// RevisionPair returns (before, after). After is nil when the entity was
	// not touched by the transaction; before is nil on first creation.
	RevisionPair(ctx context.Context, kind EntityKind, entityID, transactionID string) (Snapshot, Snapshot, error)
}

// DiffEngine computes change sets, either from a snapshot pair captured
// around a host action or from the revision history.
type DiffEngine struct {
	revisions RevisionSource
	packages  FieldFilter
	resources FieldFilter
	logger    zerolog.Logger
}

// NewDiffEngine creates a diff engine with the default bookkeeping exclusions.
func NewDiffEngine(revisions RevisionSource, logger zerolog.Logger) *DiffEngine {
	return &DiffEngine{
		revisions: revisions,
		packages:  FieldFilter{Exclude: DefaultPackageExclusions},
		resources: FieldFilter{Exclude: DefaultResourceExclusions},
		logger:    logger,
	}
}

// ExclusionsFor returns the bookkeeping filter for an entity kind.
func (d *DiffEngine) ExclusionsFor(kind EntityKind) FieldFilter {
	if kind == KindPackage {
		return d.packages
	}
	return d.resources
}

// ComputeChanges returns the change set for one entity within a transaction.
// An empty or unresolvable transaction id yields an empty change set and no
// error, because system actions routinely carry no transaction marker.
func (d *DiffEngine) ComputeChanges(ctx context.Context, transactionID string, kind EntityKind, entityID string) (ChangeSet, error) {
	if transactionID == "" || d.revisions == nil {
		d.logger.Debug().Str("kind", string(kind)).Str("entity_id", entityID).Msg("no transaction id, empty change set")
		return ChangeSet{}, nil
	}
	before, after, err := d.revisions.RevisionPair(ctx, kind, entityID, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoTransaction) {
			d.logger.Debug().Str("transaction_id", transactionID).Str("entity_id", entityID).Msg("transaction not resolvable")
			return ChangeSet{}, nil
		}
		return nil, NewCollaboratorError("failed to resolve revisions", err).
			WithResource(entityID).WithOperation("compute_changes")
	}
	if after == nil {
		return ChangeSet{}, nil
	}
	if kind == KindPackage {
		before, _ = before.WithoutResources()
		after, _ = after.WithoutResources()
	}
	return CompareSnapshots(before, after, d.ExclusionsFor(kind)), nil
}

// DiffPackage compares two package snapshots including their resources.
// The filters are combined with the bookkeeping exclusions.
func (d *DiffEngine) DiffPackage(before, after Snapshot, pkgFilter, resFilter FieldFilter) *PackageDiff {
	pkgFilter = pkgFilter.Merge(d.packages.Exclude...)
	resFilter = resFilter.Merge(d.resources.Exclude...)

	diff := &PackageDiff{Resources: map[string]ChangeSet{}}
	diff.Before, diff.BeforeResources = before.WithoutResources()
	diff.After, diff.AfterResources = after.WithoutResources()

	diff.Package = CompareSnapshots(diff.Before, diff.After, pkgFilter)
	diff.Partition = PartitionResources(diff.BeforeResources, diff.AfterResources)
	for _, id := range diff.Partition.Same {
		changes := CompareSnapshots(diff.BeforeResources[id], diff.AfterResources[id], resFilter)
		if !changes.Empty() {
			diff.Resources[id] = changes
		}
	}
	return diff
}

// PackageAtTransaction returns the full package snapshots (resources
// included) recorded for a transaction and immediately before it.
func (d *DiffEngine) PackageAtTransaction(ctx context.Context, packageID, transactionID string) (Snapshot, Snapshot, error) {
	if transactionID == "" || d.revisions == nil {
		return nil, nil, ErrNoTransaction
	}
	before, after, err := d.revisions.RevisionPair(ctx, KindPackage, packageID, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}
