package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresStore implements the Store interface on PostgreSQL. It is the
// choice when dispatches originate from several host processes.
type PostgresStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// NewPostgresStore creates a new PostgreSQL store instance
func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	cfg.applyDefaults()

	return &PostgresStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the connection pool
func (s *PostgresStore) Init(ctx context.Context) error {
	db, err := sql.Open("postgres", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
}

// UpsertTaskStatus relies on the unique index of the natural key, so racing
// dispatches from several processes never lose an update.
func (s *PostgresStore) UpsertTaskStatus(ctx context.Context, status *TaskStatus) (*TaskStatus, error) {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id, entity_type, task_type) DO UPDATE SET
			state = EXCLUDED.state,
			value = CASE WHEN EXCLUDED.value = '' THEN task_status.value ELSE EXCLUDED.value END,
			error = EXCLUDED.error,
			last_updated = EXCLUDED.last_updated
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
func (s *PostgresStore) ShowTaskStatus(ctx context.Context, key TaskKey) (*TaskStatus, error) {
	query := `
		SELECT id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
		FROM task_status
		WHERE entity_id = $1 AND entity_type = $2 AND task_type = $3
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
func (s *PostgresStore) ListTaskStatuses(ctx context.Context, entityType, entityID string) ([]*TaskStatus, error) {
	query := `
		SELECT id, entity_id, entity_type, task_type, state, value, error, created_at, last_updated
		FROM task_status
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY task_type
	`

	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task statuses: %w", err)
	}
	defer rows.Close()

	return collectTaskStatuses(rows)
}

// PurgeTaskStatuses deletes the records of an entity
func (s *PostgresStore) PurgeTaskStatuses(ctx context.Context, entityType, entityID, taskType string) (int64, error) {
	query := `
		DELETE FROM task_status
		WHERE entity_type = $1 AND entity_id = $2 AND ($3 = '' OR task_type = $3)
	`

	result, err := s.db.ExecContext(ctx, query, entityType, entityID, taskType)
	if err != nil {
		return 0, fmt.Errorf("failed to purge task statuses: %w", err)
	}

	return result.RowsAffected()
}

// AppendRevision records a snapshot of an entity at a transaction
func (s *PostgresStore) AppendRevision(ctx context.Context, rev *Revision) error {
	if rev.RecordedAt.IsZero() {
		rev.RecordedAt = s.now()
	}

	query := `
		INSERT INTO entity_revision (entity_type, entity_id, revision_id, snapshot, author, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		rev.EntityType,
		rev.EntityID,
		rev.RevisionID,
		rev.Snapshot,
		rev.Author,
		rev.RecordedAt,
	).Scan(&rev.ID)
	if err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}

	return nil
}

// GetRevisionPair mirrors SQLiteStore.GetRevisionPair
func (s *PostgresStore) GetRevisionPair(ctx context.Context, entityType, entityID, revisionID string) (*Revision, *Revision, error) {
	afterQuery := `
		SELECT id, entity_type, entity_id, revision_id, snapshot, author, recorded_at
		FROM entity_revision
		WHERE entity_type = $1 AND entity_id = $2 AND revision_id = $3
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
		WHERE entity_type = $1 AND entity_id = $2 AND revision_id <> $3 AND id < $4
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
func (s *PostgresStore) PruneRevisions(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entity_revision WHERE recorded_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune revisions: %w", err)
	}
	return result.RowsAffected()
}

// CreateAuditEntry creates a new audit log entry
func (s *PostgresStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *PostgresStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE ($1::text IS NULL OR action = $1)
		  AND ($2::text IS NULL OR actor = $2)
		ORDER BY timestamp DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.QueryContext(ctx, query, action, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// HealthCheck verifies the database connection is healthy
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
