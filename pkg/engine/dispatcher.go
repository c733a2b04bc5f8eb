package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

const instrumentationName = "github.com/CivityNL/ckanext-tracker/pkg/engine"

// DispatchOutcome is what a dispatch ended in.
type DispatchOutcome string

const (
	// DispatchNone means the decision did not ask for a job.
	DispatchNone DispatchOutcome = "none"

	// DispatchSkipped means a decision or hook vetoed the job.
	DispatchSkipped DispatchOutcome = "skipped"

	// DispatchEnqueued means the job is on the queue and the ledger says pending.
	DispatchEnqueued DispatchOutcome = "enqueued"

	// DispatchFailed means the job could not be enqueued. The ledger carries
	// the error when it could be written.
	DispatchFailed DispatchOutcome = "failed"
)

// DispatchRequest carries a decision together with the inputs it was made on.
type DispatchRequest struct {
	Kind             EntityKind
	Phase            Phase
	Decision         Decision
	Entity           Snapshot
	Companion        Snapshot
	Changes          ChangeSet
	CompanionChanges ChangeSet
	User             string
}

// Input returns the decision input the request was built from.
func (r DispatchRequest) Input() Input {
	return Input{
		Kind:             r.Kind,
		Phase:            r.Phase,
		Entity:           r.Entity,
		Changes:          r.Changes,
		Companion:        r.Companion,
		CompanionChanges: r.CompanionChanges,
		User:             r.User,
	}
}

// DispatchResult reports what happened to one decision.
type DispatchResult struct {
	Outcome DispatchOutcome
	Command Command
	Job     *Job
	Status  *stores.TaskStatus
	Reason  string
	Err     error
	// Compensated is set when a before-enqueue hook replaced the command.
	Compensated bool
}

// Dispatcher turns decisions into enqueued jobs with a ledger record. It never
// returns an error to its caller; failures end up in the ledger and the log.
type Dispatcher struct {
	queue    Queue
	ledger   Ledger
	payload  *PayloadBuilder
	hooks    []EnqueueHook
	observer DispatchObserver
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. source may be nil.
func NewDispatcher(queue Queue, ledger Ledger, source CatalogSource, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		ledger:   ledger,
		payload:  NewPayloadBuilder(source, logger),
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Use appends global before-enqueue hooks. Hooks run in order, ahead of the
// tracker's own hook.
func (d *Dispatcher) Use(hooks ...EnqueueHook) {
	d.hooks = append(d.hooks, hooks...)
}

// SetObserver replaces the dispatch observer.
func (d *Dispatcher) SetObserver(o DispatchObserver) {
	if o == nil {
		o = nopObserver{}
	}
	d.observer = o
}

// Ledger returns the ledger the dispatcher writes to.
func (d *Dispatcher) Ledger() Ledger {
	return d.ledger
}

// Dispatch runs the pipeline for one tracker decision.
func (d *Dispatcher) Dispatch(ctx context.Context, t *Tracker, req DispatchRequest) DispatchResult {
	ctx, span := d.tracer.Start(ctx, "tracker.dispatch", trace.WithAttributes(
		attribute.String("tracker.name", t.Name),
		attribute.String("entity.kind", string(req.Kind)),
		attribute.String("entity.id", req.Entity.ID()),
	))
	defer span.End()

	var result DispatchResult
	switch {
	case req.Decision.Outcome == OutcomeSkip:
		d.logger.Debug().
			Str("tracker", t.Name).
			Str("entity_id", req.Entity.ID()).
			Str("reason", req.Decision.Reason).
			Msg("dispatch skipped by decision")
		result = DispatchResult{Outcome: DispatchSkipped, Reason: req.Decision.Reason}
	case !req.Decision.Enqueues():
		result = DispatchResult{Outcome: DispatchNone, Reason: req.Decision.Reason}
	default:
		result = d.dispatch(ctx, t, req, req.Decision.Command, true)
	}

	span.SetAttributes(
		attribute.String("job.command", string(result.Command)),
		attribute.String("dispatch.outcome", string(result.Outcome)),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	d.observer.ObserveDispatch(t.Name, req.Kind, result.Outcome)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, t *Tracker, req DispatchRequest, cmd Command, allowCompensate bool) (result DispatchResult) {
	entityID := req.Entity.ID()
	key := stores.TaskKey{EntityID: entityID, EntityType: string(req.Kind), TaskType: t.Name}
	in := req.Input()

	var job *Job
	defer func() {
		if r := recover(); r != nil {
			err := NewPermanentError(fmt.Sprintf("panic during dispatch: %v", r), nil).
				WithCode(ErrCodeInternal).WithResource(entityID)
			result = d.fail(ctx, t, key, cmd, job, err)
		}
	}()

	if err := key.Validate(); err != nil {
		// without a key there is no ledger row to carry the error
		d.logger.Error().Err(err).Str("tracker", t.Name).Str("command", string(cmd)).Msg("cannot dispatch without entity id")
		return DispatchResult{Outcome: DispatchFailed, Command: cmd, Err: NewValidationError(err.Error())}
	}

	args := d.payload.Build(ctx, t, req.Kind, req.Entity, req.Companion)
	job = NewJob(t, req.Kind, entityID, cmd, args, d.now())

	decision := d.beforeEnqueue(ctx, t, job, in)
	switch decision.Outcome {
	case OutcomeSkip:
		d.logger.Debug().
			Str("tracker", t.Name).
			Str("entity_id", entityID).
			Str("command", string(cmd)).
			Str("reason", decision.Reason).
			Msg("dispatch vetoed")
		return DispatchResult{Outcome: DispatchSkipped, Command: cmd, Reason: decision.Reason}
	case OutcomeCompensate:
		if decision.Command != "" && decision.Command != cmd {
			if !allowCompensate {
				d.logger.Warn().
					Str("tracker", t.Name).
					Str("entity_id", entityID).
					Str("command", string(decision.Command)).
					Msg("nested compensation ignored")
				return DispatchResult{Outcome: DispatchSkipped, Command: cmd, Reason: decision.Reason}
			}
			d.logger.Debug().
				Str("tracker", t.Name).
				Str("entity_id", entityID).
				Str("from", string(cmd)).
				Str("to", string(decision.Command)).
				Str("reason", decision.Reason).
				Msg("dispatch compensated")
			compensated := d.dispatch(ctx, t, req, decision.Command, false)
			compensated.Compensated = true
			if compensated.Reason == "" {
				compensated.Reason = decision.Reason
			}
			return compensated
		}
	}

	value := stores.TaskValue{JobID: job.ID, Command: string(cmd)}
	if _, err := d.ledger.UpsertTaskStatus(ctx, &stores.TaskStatus{
		TaskKey: key,
		State:   stores.TaskStateCreated,
		Value:   value,
	}); err != nil {
		return d.fail(ctx, t, key, cmd, job, NewTransientError("failed to record task status", err).WithCode(ErrCodeLedger))
	}

	start := time.Now()
	err := d.queue.Enqueue(ctx, t.Queue, job)
	d.observer.ObserveEnqueue(t.Name, time.Since(start), err)
	if err != nil {
		return d.fail(ctx, t, key, cmd, job, NewTransientError("failed to enqueue job", err).
			WithCode(ErrCodeEnqueue).WithResource(entityID).WithOperation(string(cmd)))
	}

	status, err := d.ledger.UpsertTaskStatus(ctx, &stores.TaskStatus{
		TaskKey: key,
		State:   stores.TaskStatePending,
		Value:   value,
	})
	if err != nil {
		// the job is already on the queue, so the worker report will repair the row
		return d.fail(ctx, t, key, cmd, job, NewTransientError("failed to mark task pending", err).WithCode(ErrCodeLedger))
	}

	d.logger.Info().
		Str("tracker", t.Name).
		Str("kind", string(req.Kind)).
		Str("entity_id", entityID).
		Str("command", string(cmd)).
		Str("job_id", job.ID).
		Msg("job enqueued")

	if t.AfterEnqueue != nil {
		if err := t.AfterEnqueue(ctx, job, in); err != nil {
			d.logger.Warn().Err(err).Str("tracker", t.Name).Str("job_id", job.ID).Msg("after enqueue hook failed")
		}
	}

	return DispatchResult{Outcome: DispatchEnqueued, Command: cmd, Job: job, Status: status}
}

// beforeEnqueue runs the global hooks and then the tracker's hook. The first
// Skip or Compensate wins.
func (d *Dispatcher) beforeEnqueue(ctx context.Context, t *Tracker, job *Job, in Input) Decision {
	for _, hook := range d.hooks {
		if decision := hook.BeforeEnqueue(ctx, job, in); vetoes(decision) {
			return decision
		}
	}
	if t.BeforeEnqueue != nil {
		if decision := t.BeforeEnqueue(ctx, job, in); vetoes(decision) {
			return decision
		}
	}
	return Proceed(job.Command)
}

func vetoes(d Decision) bool {
	return d.Outcome == OutcomeSkip || d.Outcome == OutcomeCompensate
}

// fail records the error on the ledger. It never propagates.
func (d *Dispatcher) fail(ctx context.Context, t *Tracker, key stores.TaskKey, cmd Command, job *Job, err error) DispatchResult {
	msg := err.Error()
	record := &stores.TaskStatus{TaskKey: key, State: stores.TaskStateError, Error: &msg}
	if job != nil {
		record.Value = stores.TaskValue{JobID: job.ID, Command: string(cmd)}
	}

	status, ledgerErr := d.ledger.UpsertTaskStatus(ctx, record)
	if ledgerErr != nil {
		d.logger.Error().Err(ledgerErr).Str("tracker", t.Name).Str("entity_id", key.EntityID).Msg("failed to record dispatch error")
		status = nil
	}

	d.logger.Error().
		Err(err).
		Str("tracker", t.Name).
		Str("entity_id", key.EntityID).
		Str("command", string(cmd)).
		Msg("dispatch failed")

	return DispatchResult{Outcome: DispatchFailed, Command: cmd, Job: job, Status: status, Err: err}
}
