package trackers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

type mockLookup struct {
	mu    sync.Mutex
	types map[string]*FeatureType
	err   error
	calls []string
}

func (m *mockLookup) FeatureType(ctx context.Context, name string) (*FeatureType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.err != nil {
		return nil, m.err
	}
	return m.types[name], nil
}

type patchCall struct {
	id     string
	fields map[string]interface{}
}

type mockPatcher struct {
	mu      sync.Mutex
	patches []patchCall
	err     error
}

func (m *mockPatcher) PatchPackage(ctx context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patchCall{id: id, fields: fields})
	return m.err
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []*engine.Job
	err  error
}

func (m *mockQueue) Enqueue(ctx context.Context, queueName string, job *engine.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	job.Queue = queueName
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockQueue) commands() []engine.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Command, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Command)
	}
	return out
}

var errBrokerUnavailable = errors.New("broker unavailable")

// pipeline runs trackers through the real lifecycle against an in-memory
// SQLite ledger.
type pipeline struct {
	lifecycle *engine.Lifecycle
	queue     *mockQueue
	store     *stores.SQLiteStore
}

func newPipeline(t *testing.T, trackers ...*engine.Tracker) *pipeline {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := engine.NewRegistry(zerolog.Nop())
	for _, tr := range trackers {
		if err := registry.Register(tr); err != nil {
			t.Fatalf("failed to register tracker %s: %v", tr.Name, err)
		}
	}

	q := &mockQueue{}
	dispatcher := engine.NewDispatcher(q, store, nil, zerolog.Nop())
	lifecycle := engine.NewLifecycle(registry, dispatcher, engine.NewDiffEngine(nil, zerolog.Nop()), zerolog.Nop())
	return &pipeline{lifecycle: lifecycle, queue: q, store: store}
}

func (p *pipeline) status(t *testing.T, kind engine.EntityKind, id, tracker string) *stores.TaskStatus {
	t.Helper()
	status, err := p.store.ShowTaskStatus(context.Background(), stores.TaskKey{
		EntityID: id, EntityType: string(kind), TaskType: tracker,
	})
	if err != nil {
		t.Fatalf("failed to show task status: %v", err)
	}
	return status
}

// pkg builds a package snapshot with embedded resources.
func pkg(id string, fields map[string]interface{}, resources ...engine.Snapshot) engine.Snapshot {
	s := engine.Snapshot{"id": id, "name": "pkg-" + id, "state": engine.StateActive, "private": false}
	for k, v := range fields {
		s[k] = v
	}
	list := make([]interface{}, 0, len(resources))
	for _, r := range resources {
		list = append(list, map[string]interface{}(r))
	}
	s["resources"] = list
	return s
}

func resource(id string, fields map[string]interface{}) engine.Snapshot {
	s := engine.Snapshot{"id": id, "state": engine.StateActive, "package_id": "p1"}
	for k, v := range fields {
		s[k] = v
	}
	return s
}

// packageInput builds a package decision input from a before/after pair.
func packageInput(phase engine.Phase, before, after engine.Snapshot) engine.Input {
	b, _ := before.WithoutResources()
	a, _ := after.WithoutResources()
	return engine.Input{
		Kind:    engine.KindPackage,
		Phase:   phase,
		Entity:  a,
		Changes: engine.CompareSnapshots(b, a, engine.FieldFilter{}),
	}
}

func resourceInput(phase engine.Phase, before, after, owner engine.Snapshot, ownerChanges engine.ChangeSet) engine.Input {
	return engine.Input{
		Kind:             engine.KindResource,
		Phase:            phase,
		Entity:           after,
		Changes:          engine.CompareSnapshots(before, after, engine.FieldFilter{}),
		Companion:        owner,
		CompanionChanges: ownerChanges,
	}
}

func assertDecision(t *testing.T, got engine.Decision, outcome engine.Outcome, cmd engine.Command) {
	t.Helper()
	if got.Outcome != outcome || got.Command != cmd {
		t.Errorf("expected %s(%s), got %s", outcome, cmd, got)
	}
}
