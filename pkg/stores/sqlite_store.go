package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQL store configuration
type Config struct {
	// Path is the SQLite file path or ":memory:"
	Path string
	// DSN is the PostgreSQL connection string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cfg.applyDefaults()

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := s.cfg.MaxOpenConns
	if s.cfg.Path == ":memory:" {
		// every new connection would see its own empty in-memory database
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// UpsertTaskStatus inserts or overwrites the live record for the status key in
// one statement. The row id and created_at survive an overwrite; an empty
// value keeps the stored one so worker reports need not repeat the job id.
func (s *SQLiteStore) UpsertTaskStatus(ctx context.Context, status *TaskStatus) (*TaskStatus, error) {
	if err := status.TaskKey.Validate(); err != nil {
		return nil, err
	}
	if err := status.State.Validate(); err != nil {
		return nil, err
	}
	value, err := encodeTaskValue(status.Value)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if status.ID == "" {
		status.ID = newTaskID()
	}

	query := `
		INSERT INTO task_status (
			id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, entity_type, task_type) DO UPDATE SET
			state = excluded.state,
			value = CASE WHEN excluded.value = '' THEN task_status.value ELSE excluded.value END,
			error = excluded.error,
			last_updated = excluded.last_updated
		RETURNING id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
	`

	row := s.db.QueryRowContext(ctx, query,
		status.ID,
		status.EntityID,
		status.EntityType,
		status.TaskType,
		string(status.State),
		value,
		status.Error,
		now,
		now,
	)
	stored, err := scanTaskStatus(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert task status: %w", err)
	}

	return stored, nil
}

// ShowTaskStatus returns the live record for the key, or nil when none exists
func (s *SQLiteStore) ShowTaskStatus(ctx context.Context, key TaskKey) (*TaskStatus, error) {
	query := `
		SELECT id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
		FROM task_status
		WHERE entity_id = ? AND entity_type = ? AND task_type = ?
	`

	status, err := scanTaskStatus(s.db.QueryRowContext(ctx, query, key.EntityID, key.EntityType, key.TaskType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	return status, nil
}

// ListTaskStatuses lists every tracker's record for one entity
func (s *SQLiteStore) ListTaskStatuses(ctx context.Context, entityType, entityID string) ([]*TaskStatus, error) {
	query := `
		SELECT id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
		FROM task_status
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY task_type
	`

	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task statuses: %w", err)
	}
	defer rows.Close()

	return collectTaskStatuses(rows)
}

// PurgeTaskStatuses deletes the records of an entity. An empty taskType
// removes the records of every tracker.
func (s *SQLiteStore) PurgeTaskStatuses(ctx context.Context, entityType, entityID, taskType string) (int64, error) {
	query := `
		DELETE FROM task_status
		WHERE entity_type = ? AND entity_id = ? AND (? = '' OR task_type = ?)
	`

	result, err := s.db.ExecContext(ctx, query, entityType, entityID, taskType, taskType)
	if err != nil {
		return 0, fmt.Errorf("failed to purge task statuses: %w", err)
	}

	return result.RowsAffected()
}

// AppendRevision records a snapshot of an entity at a transaction
func (s *SQLiteStore) AppendRevision(ctx context.Context, rev *Revision) error {
	if rev.RecordedAt.IsZero() {
		rev.RecordedAt = s.now()
	}

	query := `
		INSERT INTO entity_revision (entity_type, entity_id, revision_id, snapshot, author, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rev.EntityType,
		rev.EntityID,
		rev.RevisionID,
		rev.Snapshot,
		rev.Author,
		rev.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get revision ID: %w", err)
	}

	rev.ID = id
	return nil
}

// GetRevisionPair returns the snapshot recorded for the revision and the latest
// one recorded before it. ErrNotFound means the revision never touched the entity;
// a nil before means the revision created it.
func (s *SQLiteStore) GetRevisionPair(ctx context.Context, entityType, entityID, revisionID string) (*Revision, *Revision, error) {
	afterQuery := `
		SELECT id, entity_type, entity_id, revision_id, snapshot, author, recorded_at
		FROM entity_revision
		WHERE entity_type = ? AND entity_id = ? AND revision_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	after, err := scanRevision(s.db.QueryRowContext(ctx, afterQuery, entityType, entityID, revisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("revision %s for %s/%s: %w", revisionID, entityType, entityID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get revision: %w", err)
	}

	beforeQuery := `
		SELECT id, entity_type, entity_id, revision_id, snapshot, author, recorded_at
		FROM entity_revision
		WHERE entity_type = ? AND entity_id = ? AND revision_id <> ? AND id < ?
		ORDER BY id DESC
		LIMIT 1
	`

	before, err := scanRevision(s.db.QueryRowContext(ctx, beforeQuery, entityType, entityID, revisionID, after.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, after, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get previous revision: %w", err)
	}

	return before, after, nil
}

// PruneRevisions deletes revisions recorded before the cutoff
func (s *SQLiteStore) PruneRevisions(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entity_revision WHERE recorded_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune revisions: %w", err)
	}
	return result.RowsAffected()
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
