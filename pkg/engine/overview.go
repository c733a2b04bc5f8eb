package engine

import (
	"context"
	"fmt"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

// TrackerStatus is one row of an entity's status overview.
type TrackerStatus struct {
	Name       string             `json:"name" yaml:"name"`
	BadgeTitle string             `json:"badge_title" yaml:"badge_title"`
	ShowUI     bool               `json:"show_ui" yaml:"show_ui"`
	ShowBadge  bool               `json:"show_badge" yaml:"show_badge"`
	Status     *stores.TaskStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// State returns the ledger state or "" when the tracker never acted.
func (s TrackerStatus) State() stores.TaskState {
	if s.Status == nil {
		return ""
	}
	return s.Status.State
}

// Overview lists every tracker registered for the kind together with its
// ledger record for the entity.
func Overview(ctx context.Context, registry *Registry, ledger Ledger, kind EntityKind, entityID string) ([]TrackerStatus, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	records, err := ledger.ListTaskStatuses(ctx, string(kind), entityID)
	if err != nil {
		return nil, NewTransientError("failed to list task statuses", err).WithCode(ErrCodeLedger).WithResource(entityID)
	}
	byTracker := make(map[string]*stores.TaskStatus, len(records))
	for _, r := range records {
		byTracker[r.TaskType] = r
	}

	trackers := registry.GetTrackersByType(kind)
	out := make([]TrackerStatus, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, TrackerStatus{
			Name:       t.Name,
			BadgeTitle: t.BadgeTitle,
			ShowUI:     t.ShowUI,
			ShowBadge:  t.ShowBadge,
			Status:     byTracker[t.Name],
		})
	}
	return out, nil
}

// Report applies a worker's state update through the ledger upsert. Only
// running, complete and error are accepted.
func Report(ctx context.Context, ledger Ledger, key stores.TaskKey, state stores.TaskState, value stores.TaskValue, errMsg string) (*stores.TaskStatus, error) {
	if err := state.Validate(); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if !state.IsWorkerState() {
		return nil, NewValidationError(fmt.Sprintf("state %q is not a worker state", state))
	}
	if err := key.Validate(); err != nil {
		return nil, NewValidationError(err.Error())
	}

	status := &stores.TaskStatus{TaskKey: key, State: state, Value: value}
	if errMsg != "" {
		status.Error = &errMsg
	}
	return ledger.UpsertTaskStatus(ctx, status)
}
