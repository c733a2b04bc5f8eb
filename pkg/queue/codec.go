package queue

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Metadata keys set on every job message.
const (
	MetadataCommand  = "command"
	MetadataTracker  = "tracker"
	MetadataKind     = "entity_kind"
	MetadataEntityID = "entity_id"
	MetadataQueue    = "queue"
)

// JobMessage is the wire form of a job. Durations are whole seconds, the
// unit workers configure their timeouts in.
type JobMessage struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	Queue       string        `json:"queue"`
	Tracker     string        `json:"tracker"`
	Kind        string        `json:"kind"`
	EntityID    string        `json:"entity_id"`
	Args        []interface{} `json:"args"`
	Timeout     int64         `json:"timeout"`
	ResultTTL   int64         `json:"result_ttl"`
	TTL         *int64        `json:"ttl"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewJobMessage converts a job to its wire form.
func NewJobMessage(job *engine.Job) JobMessage {
	msg := JobMessage{
		ID:          job.ID,
		Command:     string(job.Command),
		Queue:       job.Queue,
		Tracker:     job.Tracker,
		Kind:        string(job.Kind),
		EntityID:    job.EntityID,
		Args:        job.Args,
		Timeout:     int64(job.Timeout / time.Second),
		ResultTTL:   int64(job.ResultTTL / time.Second),
		Description: job.Description,
		CreatedAt:   job.CreatedAt,
	}
	if job.TTL != nil {
		ttl := int64(*job.TTL / time.Second)
		msg.TTL = &ttl
	}
	return msg
}

// EncodeJob builds the watermill message for a job. The job id doubles as
// the message UUID so JetStream can deduplicate redeliveries.
func EncodeJob(job *engine.Job) (*message.Message, error) {
	if arity := engine.Arity(job.Kind); len(job.Args) != arity {
		return nil, fmt.Errorf("job %s for %s carries %d args, want %d", job.ID, job.Kind, len(job.Args), arity)
	}

	data, err := json.Marshal(NewJobMessage(job))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := message.NewMessage(job.ID, data)
	msg.Metadata.Set(MetadataCommand, string(job.Command))
	msg.Metadata.Set(MetadataTracker, job.Tracker)
	msg.Metadata.Set(MetadataKind, string(job.Kind))
	msg.Metadata.Set(MetadataEntityID, job.EntityID)
	msg.Metadata.Set(MetadataQueue, job.Queue)
	return msg, nil
}

// DecodeJob parses a job message as published by EncodeJob.
func DecodeJob(msg *message.Message) (*JobMessage, error) {
	var job JobMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
