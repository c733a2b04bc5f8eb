package engine

import (
	"context"
	"fmt"
	"time"
)

// Default job settings.
const (
	DefaultJobTimeout   = 180 * time.Second
	DefaultJobResultTTL = 500 * time.Second
)

// JobSettings bound the execution of a job on the worker side.
type JobSettings struct {
	Timeout   time.Duration `json:"timeout"`
	ResultTTL time.Duration `json:"result_ttl"`
	// TTL limits how long a job may wait on the queue; nil means forever.
	TTL *time.Duration `json:"ttl,omitempty"`
}

// DefaultJobSettings returns the defaults used when configuration is silent.
func DefaultJobSettings() JobSettings {
	return JobSettings{Timeout: DefaultJobTimeout, ResultTTL: DefaultJobResultTTL}
}

// TrackingOptions shape how the lifecycle ordering feeds a tracker.
type TrackingOptions struct {
	IgnorePackages  bool `json:"ignore_packages" yaml:"ignore_packages"`
	IgnoreResources bool `json:"ignore_resources" yaml:"ignore_resources"`
	// SeparateTracking stops package changes from cascading into resource
	// updates and package deletes from cascading into resource deletes.
	SeparateTracking bool        `json:"separate_tracking" yaml:"separate_tracking"`
	PackageFields    FieldFilter `json:"package_fields" yaml:"package_fields"`
	ResourceFields   FieldFilter `json:"resource_fields" yaml:"resource_fields"`
}

// Descriptor identifies a tracker. It is immutable once registered.
type Descriptor struct {
	Name       string          `json:"name" yaml:"name"`
	Queue      string          `json:"queue" yaml:"queue"`
	BadgeTitle string          `json:"badge_title" yaml:"badge_title"`
	ShowUI     bool            `json:"show_ui" yaml:"show_ui"`
	ShowBadge  bool            `json:"show_badge" yaml:"show_badge"`
	Kinds      []EntityKind    `json:"kinds" yaml:"kinds"`
	Commands   []Command       `json:"commands" yaml:"commands"`
	Options    TrackingOptions `json:"options" yaml:"options"`
}

// Handles reports whether the tracker acts on the entity kind.
func (d Descriptor) Handles(kind EntityKind) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Input is everything a decision function sees.
type Input struct {
	Kind  EntityKind
	Phase Phase
	// Entity is the package for package decisions and the resource otherwise.
	Entity  Snapshot
	Changes ChangeSet
	// Companion is the owning package on resource and datastore decisions.
	Companion        Snapshot
	CompanionChanges ChangeSet
	User             string
}

// Package returns the package snapshot regardless of kind.
func (in Input) Package() Snapshot {
	if in.Kind == KindPackage {
		return in.Entity
	}
	return in.Companion
}

// DecideFunc maps an input to a decision. It must be pure apart from
// read-only lookups.
type DecideFunc func(ctx context.Context, in Input) Decision

// PolicyKey addresses one decision function.
type PolicyKey struct {
	Kind  EntityKind
	Phase Phase
}

// Policies is the decision table of a tracker.
type Policies map[PolicyKey]DecideFunc

// On registers fn for a kind and phase and returns the table for chaining.
func (p Policies) On(kind EntityKind, phase Phase, fn DecideFunc) Policies {
	p[PolicyKey{Kind: kind, Phase: phase}] = fn
	return p
}

// BeforeEnqueueFunc may veto (Skip) or redirect (Compensate) a job that is
// about to be enqueued. Any other outcome lets the job through.
type BeforeEnqueueFunc func(ctx context.Context, job *Job, in Input) Decision

// AfterEnqueueFunc runs once the job is on the queue. Failures are logged only.
type AfterEnqueueFunc func(ctx context.Context, job *Job, in Input) error

// CallbackFunc decides on a resource after a cooperating tracker reported back.
type CallbackFunc func(ctx context.Context, state CallbackState, resource, pkg Snapshot) Decision

// UploadFunc decides on a datastore once an upload into it completed.
type UploadFunc func(ctx context.Context, resource, pkg Snapshot) Decision

// Tracker is one integration: a descriptor, its job settings, the
// configuration handed to workers and a table of decision functions.
type Tracker struct {
	Descriptor

	Settings JobSettings
	// Configuration is the first positional argument of every job.
	Configuration Snapshot

	Policies      Policies
	BeforeEnqueue BeforeEnqueueFunc
	AfterEnqueue  AfterEnqueueFunc
	OnCallback    CallbackFunc
	OnUpload      UploadFunc
}

// Decide looks up and runs the decision function for the input. A missing
// entry means no action.
func (t *Tracker) Decide(ctx context.Context, in Input) Decision {
	if t.Policies == nil {
		return NoAction("")
	}
	fn, ok := t.Policies[PolicyKey{Kind: in.Kind, Phase: in.Phase}]
	if !ok || fn == nil {
		return NoAction("")
	}
	return fn(ctx, in)
}

// Validate checks the descriptor and fills defaults for queue and badge title.
func (t *Tracker) Validate() error {
	if t.Name == "" {
		return NewValidationError("tracker requires a name")
	}
	if len(t.Kinds) == 0 {
		return NewValidationError(fmt.Sprintf("tracker %s declares no entity kinds", t.Name))
	}
	for _, k := range t.Kinds {
		if err := k.Validate(); err != nil {
			return err
		}
	}
	if t.Queue == "" {
		t.Queue = t.Name
	}
	if t.BadgeTitle == "" {
		t.BadgeTitle = t.Name
	}
	if t.Settings.Timeout <= 0 {
		t.Settings.Timeout = DefaultJobTimeout
	}
	if t.Settings.ResultTTL <= 0 {
		t.Settings.ResultTTL = DefaultJobResultTTL
	}
	return nil
}

// StatusField is the package field a tracker writes its feedback status to.
func (t *Tracker) StatusField() string {
	return t.Name + "_status"
}

// JobIDField is the package field a tracker writes its last job id to.
func (t *Tracker) JobIDField() string {
	return t.Name + "_job_id"
}
