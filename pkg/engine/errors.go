package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error raised inside the
// tracker core or by one of its collaborators.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: broker unavailable, network timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict on the ledger.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassNotFound indicates a missing entity, revision or ledger record.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassValidation indicates invalid input such as an unknown task state.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassCollaborator indicates a failure of the host catalog or another
	// external collaborator the core reads from.
	ErrorClassCollaborator ErrorClass = "collaborator"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Sentinel errors usable with errors.Is.
var (
	// ErrNotFound is returned by collaborators when an entity does not exist.
	ErrNotFound = &EngineError{Class: ErrorClassNotFound, Code: ErrCodeNotFound, Message: "not found"}

	// ErrNoTransaction is returned when a transaction id cannot be resolved.
	ErrNoTransaction = &EngineError{Class: ErrorClassNotFound, Code: ErrCodeNoTransaction, Message: "transaction not resolvable"}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the entity id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (entity=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.Resource)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a not-found error that matches ErrNotFound.
func NewNotFoundError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewCollaboratorError wraps a failure of the host catalog.
func NewCollaboratorError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCollaborator,
		Code:    ErrCodeCollaborator,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds entity context to an error.
func (e *EngineError) WithResource(entityID string) *EngineError {
	e.Resource = entityID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConflict
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsCollaborator returns true if the error came from a host collaborator.
func IsCollaborator(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassCollaborator
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNoTransaction = "NO_TRANSACTION"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeCollaborator  = "COLLABORATOR_FAILED"
	ErrCodeEnqueue       = "ENQUEUE_FAILED"
	ErrCodeLedger        = "LEDGER_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)
