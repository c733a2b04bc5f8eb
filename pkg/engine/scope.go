package engine

import (
	"context"
	"errors"
	"sync"
)

type scopeKey struct{}

// Scope guards nested host actions. The package snapshot is taken when the
// outermost action enters and again when it exits, and only that exit
// evaluates the lifecycle.
type Scope struct {
	mu        sync.Mutex
	source    CatalogSource
	depth     int
	packageID string
	before    Snapshot
	after     Snapshot
}

// NewScope creates a scope reading package snapshots from source.
func NewScope(source CatalogSource) *Scope {
	return &Scope{source: source}
}

// WithScope stores the scope in the context.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope stored in the context, if any.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

// Depth returns the current nesting depth.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Enter records one more level of nesting. The outermost call takes the
// before snapshot; an unknown package id (a create) leaves it nil.
func (s *Scope) Enter(ctx context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.depth++
	if s.depth > 1 {
		return nil
	}
	s.packageID = packageID
	s.before, s.after = nil, nil
	if packageID == "" {
		return nil
	}
	before, err := s.show(ctx, packageID)
	if err != nil {
		return err
	}
	s.before = before
	return nil
}

// Exit leaves one level. When the outermost level exits it takes the after
// snapshot and reports done.
func (s *Scope) Exit(ctx context.Context, packageID string) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		return false, NewValidationError("scope exit without enter")
	}
	s.depth--
	if s.depth > 0 {
		return false, nil
	}
	if packageID == "" {
		packageID = s.packageID
	}
	after, err := s.show(ctx, packageID)
	if err != nil {
		return true, err
	}
	s.after = after
	return true, nil
}

// Abort leaves one level after a failed action. Nothing is evaluated.
func (s *Scope) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth > 0 {
		s.depth--
	}
}

// Snapshots returns the before and after package snapshots.
func (s *Scope) Snapshots() (Snapshot, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before, s.after
}

func (s *Scope) show(ctx context.Context, packageID string) (Snapshot, error) {
	if s.source == nil || packageID == "" {
		return nil, nil
	}
	snap, err := s.source.Show(ctx, KindPackage, packageID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewCollaboratorError("failed to show package", err).WithResource(packageID)
	}
	return snap, nil
}

// HostAction is a host catalog action. It returns the id of the package it
// touched, which may differ from the one known on entry for creates.
type HostAction func(ctx context.Context) (packageID string, err error)

// Wrap runs action inside the scope stored in ctx, creating one when absent.
// When the outermost action completes the lifecycle is evaluated. A failing
// action is returned as-is and triggers nothing.
func Wrap(ctx context.Context, source CatalogSource, lifecycle *Lifecycle, packageID, user string, action HostAction) ([]DispatchResult, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		scope = NewScope(source)
		ctx = WithScope(ctx, scope)
	}

	if err := scope.Enter(ctx, packageID); err != nil {
		scope.Abort()
		return nil, err
	}

	touched, err := action(ctx)
	if err != nil {
		scope.Abort()
		return nil, err
	}
	if touched == "" {
		touched = packageID
	}

	done, err := scope.Exit(ctx, touched)
	if err != nil || !done {
		return nil, err
	}
	before, after := scope.Snapshots()
	return lifecycle.Evaluate(ctx, before, after, user), nil
}
