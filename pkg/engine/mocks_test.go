package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

// Mock implementations for testing

type mockQueue struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (m *mockQueue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockQueue) commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Command)
	}
	return out
}

// mockLedger mirrors the upsert semantics of the SQL stores.
type mockLedger struct {
	mu        sync.Mutex
	records   map[stores.TaskKey]*stores.TaskStatus
	history   []stores.TaskState
	upsertErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{records: make(map[stores.TaskKey]*stores.TaskStatus)}
}

func (m *mockLedger) UpsertTaskStatus(ctx context.Context, status *stores.TaskStatus) (*stores.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	if err := status.State.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	existing, ok := m.records[status.TaskKey]
	if !ok {
		record := *status
		record.ID = "task-" + status.EntityID
		record.CreatedAt = now
		record.UpdatedAt = now
		m.records[status.TaskKey] = &record
		m.history = append(m.history, status.State)
		out := record
		return &out, nil
	}
	existing.State = status.State
	if status.Value != (stores.TaskValue{}) {
		existing.Value = status.Value
	}
	existing.Error = status.Error
	existing.UpdatedAt = now
	m.history = append(m.history, status.State)
	out := *existing
	return &out, nil
}

func (m *mockLedger) ShowTaskStatus(ctx context.Context, key stores.TaskKey) (*stores.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key]; ok {
		out := *r
		return &out, nil
	}
	return nil, nil
}

func (m *mockLedger) ListTaskStatuses(ctx context.Context, entityType, entityID string) ([]*stores.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*stores.TaskStatus{}
	for k, r := range m.records {
		if k.EntityType == entityType && k.EntityID == entityID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockLedger) PurgeTaskStatuses(ctx context.Context, entityType, entityID, taskType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.records {
		if k.EntityType == entityType && k.EntityID == entityID && (taskType == "" || k.TaskType == taskType) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *mockLedger) get(kind EntityKind, id, tracker string) *stores.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[stores.TaskKey{EntityID: id, EntityType: string(kind), TaskType: tracker}]
}

type mockCatalog struct {
	mu           sync.Mutex
	packages     map[string]Snapshot
	licenses     []Snapshot
	orgs         map[string]Snapshot
	dictionaries map[string]Snapshot
	orgErr       error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		packages:     make(map[string]Snapshot),
		orgs:         make(map[string]Snapshot),
		dictionaries: make(map[string]Snapshot),
	}
}

func (m *mockCatalog) Show(ctx context.Context, kind EntityKind, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.packages[id]; ok {
		return p.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *mockCatalog) DataDictionary(ctx context.Context, resourceID string) (Snapshot, error) {
	if d, ok := m.dictionaries[resourceID]; ok {
		return d, nil
	}
	return nil, ErrNotFound
}

func (m *mockCatalog) Licenses(ctx context.Context) ([]Snapshot, error) {
	return m.licenses, nil
}

func (m *mockCatalog) Organization(ctx context.Context, id string) (Snapshot, error) {
	if m.orgErr != nil {
		return nil, m.orgErr
	}
	if o, ok := m.orgs[id]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (m *mockCatalog) set(pkg Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[pkg.ID()] = pkg
}

type mockRevisions struct {
	before, after Snapshot
	err           error
}

func (m *mockRevisions) RevisionPair(ctx context.Context, kind EntityKind, entityID, transactionID string) (Snapshot, Snapshot, error) {
	return m.before, m.after, m.err
}

var errBrokerUnavailable = errors.New("broker unavailable")

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []DispatchOutcome
	enqueues int
	failures int
}

func (o *recordingObserver) ObserveDispatch(tracker string, kind EntityKind, outcome DispatchOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveEnqueue(tracker string, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueues++
	if err != nil {
		o.failures++
	}
}

func taskKey(entityID, tracker string) stores.TaskKey {
	return stores.TaskKey{EntityID: entityID, EntityType: string(KindResource), TaskType: tracker}
}

func stateOf(s string) stores.TaskState {
	return stores.TaskState(s)
}

func valueOf(jobID string) stores.TaskValue {
	return stores.TaskValue{JobID: jobID}
}
