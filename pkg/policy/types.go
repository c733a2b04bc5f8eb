package policy

import (
	"strings"
	"time"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// SourceBuiltin marks rules that ship with the daemon.
const SourceBuiltin = "builtin"

// Rule is one Rego module contributing to the skip set.
type Rule struct {
	// Name is the unique name of the rule, the file name without .rego for
	// loaded rules.
	Name string `json:"name" yaml:"name"`

	// Description is taken from the leading comment block.
	Description string `json:"description" yaml:"description"`

	// Rego contains the module source.
	Rego string `json:"rego" yaml:"-"`

	// Package is the module's package path without the data. prefix.
	Package string `json:"package" yaml:"package"`

	// Source is the file the rule was loaded from, or SourceBuiltin.
	Source string `json:"source" yaml:"source"`

	// Enabled indicates if the rule takes part in evaluation.
	Enabled bool `json:"enabled" yaml:"enabled"`

	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Builtin reports whether the rule ships with the daemon.
func (r Rule) Builtin() bool {
	return r.Source == SourceBuiltin
}

// Input is the document rules see as input.
type Input struct {
	Tracker   string          `json:"tracker"`
	Kind      string          `json:"kind"`
	Phase     string          `json:"phase,omitempty"`
	Command   string          `json:"command"`
	Queue     string          `json:"queue"`
	EntityID  string          `json:"entity_id"`
	Entity    engine.Snapshot `json:"entity"`
	Companion engine.Snapshot `json:"companion,omitempty"`
	User      string          `json:"user,omitempty"`
}

// NewInput builds the rule input for a job about to be enqueued.
func NewInput(job *engine.Job, in engine.Input) Input {
	return Input{
		Tracker:   job.Tracker,
		Kind:      string(job.Kind),
		Phase:     string(in.Phase),
		Command:   string(job.Command),
		Queue:     job.Queue,
		EntityID:  job.EntityID,
		Entity:    in.Entity,
		Companion: in.Companion,
		User:      in.User,
	}
}

// Result is the outcome of one evaluation.
type Result struct {
	// Skip is true when the skip set was non-empty.
	Skip bool `json:"skip"`

	// Reasons are the distinct skip messages, sorted.
	Reasons []string `json:"reasons,omitempty"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Reason joins the skip messages into one veto reason.
func (r *Result) Reason() string {
	return strings.Join(r.Reasons, "; ")
}
