package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of work handed to a worker. Args is positional:
// (configuration, package) for package kind and
// (configuration, package, resource, data dictionary) otherwise.
type Job struct {
	ID          string         `json:"id"`
	Command     Command        `json:"command"`
	Queue       string         `json:"queue"`
	Tracker     string         `json:"tracker"`
	Kind        EntityKind     `json:"kind"`
	EntityID    string         `json:"entity_id"`
	Args        []interface{}  `json:"args"`
	Timeout     time.Duration  `json:"timeout"`
	ResultTTL   time.Duration  `json:"result_ttl"`
	TTL         *time.Duration `json:"ttl,omitempty"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewJob creates a job for a tracker command on an entity.
func NewJob(t *Tracker, kind EntityKind, entityID string, cmd Command, args []interface{}, now time.Time) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Command:     cmd,
		Queue:       t.Queue,
		Tracker:     t.Name,
		Kind:        kind,
		EntityID:    entityID,
		Args:        args,
		Timeout:     t.Settings.Timeout,
		ResultTTL:   t.Settings.ResultTTL,
		TTL:         t.Settings.TTL,
		Description: JobDescription(cmd, kind, entityID, t.Name),
		CreatedAt:   now,
	}
}

// JobDescription is the human readable description stored with a job.
func JobDescription(cmd Command, kind EntityKind, entityID, tracker string) string {
	return fmt.Sprintf("Job for action [%s] on %s [%s] created by %s", cmd, kind, entityID, tracker)
}

// Arity is the number of positional arguments workers expect for a kind.
func Arity(kind EntityKind) int {
	if kind.UsesResourcePayload() {
		return 4
	}
	return 2
}
