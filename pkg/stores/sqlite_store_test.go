package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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
	return store
}

func testKey(id string) TaskKey {
	return TaskKey{EntityID: id, EntityType: "package", TaskType: "geoserver"}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations checks that every table exists after migrating
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"task_status", "entity_revision", "audit"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// a second run is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore(Config{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", Config{Path: ":memory:"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestUpsertTaskStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := testKey("pkg-1")

	first, err := store.UpsertTaskStatus(ctx, &TaskStatus{
		TaskKey: key,
		State:   TaskStateCreated,
		Value:   TaskValue{JobID: "job-1", Command: "create_datasource"},
	})
	if err != nil {
		t.Fatalf("failed to upsert task status: %v", err)
	}
	if first.ID == "" {
		t.Error("expected generated ID")
	}

	// the store clock is injectable; move it forward to observe last_updated
	store.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	second, err := store.UpsertTaskStatus(ctx, &TaskStatus{
		TaskKey: key,
		State:   TaskStatePending,
		Value:   TaskValue{JobID: "job-2", Command: "delete_datasource"},
	})
	if err != nil {
		t.Fatalf("failed to upsert task status: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("expected ID %s to be kept, got %s", first.ID, second.ID)
	}
	if second.State != TaskStatePending {
		t.Errorf("expected state pending, got %s", second.State)
	}
	if second.Value.JobID != "job-2" {
		t.Errorf("expected job-2, got %s", second.Value.JobID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("expected created_at to be preserved: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("expected last_updated to advance: %v <= %v", second.UpdatedAt, first.UpdatedAt)
	}

	statuses, err := store.ListTaskStatuses(ctx, "package", "pkg-1")
	if err != nil {
		t.Fatalf("failed to list task statuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(statuses))
	}
}

func TestUpsertTaskStatusEmptyValueKeepsStored(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := testKey("pkg-1")

	if _, err := store.UpsertTaskStatus(ctx, &TaskStatus{
		TaskKey: key,
		State:   TaskStatePending,
		Value:   TaskValue{JobID: "job-1", Command: "create_datasource"},
	}); err != nil {
		t.Fatalf("failed to upsert task status: %v", err)
	}

	msg := "worker crashed"
	got, err := store.UpsertTaskStatus(ctx, &TaskStatus{
		TaskKey: key,
		State:   TaskStateError,
		Error:   &msg,
	})
	if err != nil {
		t.Fatalf("failed to upsert task status: %v", err)
	}

	if got.Value.JobID != "job-1" {
		t.Errorf("expected stored job id to survive, got %q", got.Value.JobID)
	}
	if got.Error == nil || *got.Error != msg {
		t.Errorf("expected error %q, got %v", msg, got.Error)
	}
}

func TestUpsertTaskStatusValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		status *TaskStatus
	}{
		{
			name:   "invalid state",
			status: &TaskStatus{TaskKey: testKey("pkg-1"), State: "cancelled"},
		},
		{
			name:   "missing entity id",
			status: &TaskStatus{TaskKey: TaskKey{EntityType: "package", TaskType: "ogr"}, State: TaskStateCreated},
		},
		{
			name:   "missing task type",
			status: &TaskStatus{TaskKey: TaskKey{EntityID: "x", EntityType: "package"}, State: TaskStateCreated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.UpsertTaskStatus(ctx, tt.status); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUpsertTaskStatusConcurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := testKey("pkg-race")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.UpsertTaskStatus(ctx, &TaskStatus{TaskKey: key, State: TaskStatePending}); err != nil {
				t.Errorf("failed to upsert task status: %v", err)
			}
		}()
	}
	wg.Wait()

	statuses, err := store.ListTaskStatuses(ctx, key.EntityType, key.EntityID)
	if err != nil {
		t.Fatalf("failed to list task statuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Errorf("expected one record after concurrent upserts, got %d", len(statuses))
	}
}

func TestShowTaskStatusMissing(t *testing.T) {
	store := setupTestStore(t)

	status, err := store.ShowTaskStatus(context.Background(), testKey("nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != nil {
		t.Errorf("expected nil status, got %+v", status)
	}
}

func TestPurgeTaskStatuses(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, tracker := range []string{"geoserver", "geonetwork", "ogr"} {
		if _, err := store.UpsertTaskStatus(ctx, &TaskStatus{
			TaskKey: TaskKey{EntityID: "res-1", EntityType: "resource", TaskType: tracker},
			State:   TaskStateComplete,
		}); err != nil {
			t.Fatalf("failed to upsert task status: %v", err)
		}
	}

	n, err := store.PurgeTaskStatuses(ctx, "resource", "res-1", "ogr")
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}

	n, err = store.PurgeTaskStatuses(ctx, "resource", "res-1", "")
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged rows, got %d", n)
	}

	statuses, err := store.ListTaskStatuses(ctx, "resource", "res-1")
	if err != nil {
		t.Fatalf("failed to list task statuses: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("expected no records, got %d", len(statuses))
	}
}

func TestRevisionPair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	revisions := []*Revision{
		{EntityType: "package", EntityID: "pkg-1", RevisionID: "rev-1", Snapshot: `{"title":"a"}`},
		{EntityType: "package", EntityID: "pkg-1", RevisionID: "rev-2", Snapshot: `{"title":"b"}`},
		{EntityType: "package", EntityID: "pkg-2", RevisionID: "rev-2", Snapshot: `{"title":"x"}`},
	}
	for _, rev := range revisions {
		if err := store.AppendRevision(ctx, rev); err != nil {
			t.Fatalf("failed to append revision: %v", err)
		}
	}

	before, after, err := store.GetRevisionPair(ctx, "package", "pkg-1", "rev-2")
	if err != nil {
		t.Fatalf("failed to get revision pair: %v", err)
	}
	if before == nil || before.Snapshot != `{"title":"a"}` {
		t.Errorf("unexpected before revision: %+v", before)
	}
	if after.Snapshot != `{"title":"b"}` {
		t.Errorf("unexpected after revision: %+v", after)
	}

	before, after, err = store.GetRevisionPair(ctx, "package", "pkg-2", "rev-2")
	if err != nil {
		t.Fatalf("failed to get revision pair: %v", err)
	}
	if before != nil {
		t.Errorf("expected no before revision for a created entity, got %+v", before)
	}
	if after == nil {
		t.Fatal("expected after revision")
	}

	_, _, err = store.GetRevisionPair(ctx, "package", "pkg-1", "rev-9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneRevisions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &Revision{
		EntityType: "package", EntityID: "pkg-1", RevisionID: "rev-1",
		Snapshot: "{}", RecordedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	fresh := &Revision{EntityType: "package", EntityID: "pkg-1", RevisionID: "rev-2", Snapshot: "{}"}
	for _, rev := range []*Revision{old, fresh} {
		if err := store.AppendRevision(ctx, rev); err != nil {
			t.Fatalf("failed to append revision: %v", err)
		}
	}

	n, err := store.PruneRevisions(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune revisions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned revision, got %d", n)
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	target := "pkg-1"
	entries := []*AuditEntry{
		{Action: "task_status.purged", Actor: "admin", TargetID: &target},
		{Action: "task_status.reported", Actor: "worker"},
		{Action: "task_status.purged", Actor: "worker"},
	}
	for _, entry := range entries {
		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected generated audit ID")
		}
	}

	all, err := store.ListAuditEntries(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries, got %d", len(all))
	}

	action := "task_status.purged"
	purged, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(purged) != 2 {
		t.Errorf("expected 2 purge entries, got %d", len(purged))
	}

	actor := "admin"
	byAdmin, err := store.ListAuditEntries(ctx, &action, &actor, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(byAdmin) != 1 || byAdmin[0].TargetID == nil || *byAdmin[0].TargetID != target {
		t.Errorf("unexpected admin entries: %+v", byAdmin)
	}
}
