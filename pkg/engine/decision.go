package engine

import "fmt"

// Outcome is the kind of answer a decision function or hook gives.
type Outcome int

const (
	// OutcomeNone means no external action is warranted.
	OutcomeNone Outcome = iota

	// OutcomeProceed means enqueue the decision's command.
	OutcomeProceed

	// OutcomeSkip is an expected non-error stop. Nothing is enqueued and the
	// ledger is left untouched.
	OutcomeSkip

	// OutcomeCompensate replaces the intended command with a corrective one,
	// usually a delete or purge.
	OutcomeCompensate
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeProceed:
		return "proceed"
	case OutcomeSkip:
		return "skip"
	case OutcomeCompensate:
		return "compensate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the typed result of a policy predicate or a before-enqueue hook.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Command Command `json:"command,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// NoAction returns a decision that does nothing.
func NoAction(reason string) Decision {
	return Decision{Outcome: OutcomeNone, Reason: reason}
}

// Proceed returns a decision that enqueues cmd.
func Proceed(cmd Command) Decision {
	return Decision{Outcome: OutcomeProceed, Command: cmd}
}

// Skip returns the expected-stop decision.
func Skip(reason string) Decision {
	return Decision{Outcome: OutcomeSkip, Reason: reason}
}

// Compensate returns a decision that enqueues the corrective cmd instead.
func Compensate(cmd Command, reason string) Decision {
	return Decision{Outcome: OutcomeCompensate, Command: cmd, Reason: reason}
}

// Enqueues reports whether the decision leads to a job.
func (d Decision) Enqueues() bool {
	return (d.Outcome == OutcomeProceed || d.Outcome == OutcomeCompensate) && d.Command != ""
}

// String renders the decision for logs.
func (d Decision) String() string {
	switch {
	case d.Command != "" && d.Reason != "":
		return fmt.Sprintf("%s(%s: %s)", d.Outcome, d.Command, d.Reason)
	case d.Command != "":
		return fmt.Sprintf("%s(%s)", d.Outcome, d.Command)
	case d.Reason != "":
		return fmt.Sprintf("%s(%s)", d.Outcome, d.Reason)
	default:
		return d.Outcome.String()
	}
}
