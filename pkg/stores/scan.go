package stores

import (
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func newTaskID() string {
	return uuid.New().String()
}

// encodeTaskValue returns "" for a zero value so upserts keep the stored one.
func encodeTaskValue(v TaskValue) (string, error) {
	if v == (TaskValue{}) {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task value: %w", err)
	}
	return string(data), nil
}

func decodeTaskValue(raw string) (TaskValue, error) {
	var v TaskValue
	if raw == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal task value: %w", err)
	}
	return v, nil
}

func scanTaskStatus(row rowScanner) (*TaskStatus, error) {
	status := &TaskStatus{}
	var (
		state  string
		value  string
		errMsg sql.NullString
	)
	err := row.Scan(
		&status.ID,
		&status.EntityID,
		&status.EntityType,
		&status.TaskType,
		&state,
		&value,
		&errMsg,
		&status.CreatedAt,
		&status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	status.State = TaskState(state)
	if errMsg.Valid {
		status.Error = &errMsg.String
	}
	if status.Value, err = decodeTaskValue(value); err != nil {
		return nil, err
	}
	return status, nil
}

func collectTaskStatuses(rows *sql.Rows) ([]*TaskStatus, error) {
	statuses := []*TaskStatus{}
	for rows.Next() {
		status, err := scanTaskStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task status: %w", err)
		}
		statuses = append(statuses, status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task statuses: %w", err)
	}

	return statuses, nil
}

func scanRevision(row rowScanner) (*Revision, error) {
	rev := &Revision{}
	err := row.Scan(
		&rev.ID,
		&rev.EntityType,
		&rev.EntityID,
		&rev.RevisionID,
		&rev.Snapshot,
		&rev.Author,
		&rev.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func collectAuditEntries(rows *sql.Rows) ([]*AuditEntry, error) {
	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
