package engine

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

type registryKey struct {
	kind EntityKind
	name string
}

// Registry is the process-wide directory of active trackers.
// Registration is idempotent per (name, kind).
type Registry struct {
	mu       sync.RWMutex
	trackers []*Tracker
	byKey    map[registryKey]*Tracker
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byKey:  make(map[registryKey]*Tracker),
		logger: logger,
	}
}

// Register adds a tracker for every kind it declares. A kind already
// registered under the same name is left alone.
func (r *Registry) Register(t *Tracker) error {
	if t == nil {
		return NewValidationError("tracker is nil")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := false
	for _, kind := range t.Kinds {
		key := registryKey{kind: kind, name: t.Name}
		if _, exists := r.byKey[key]; exists {
			r.logger.Info().Str("tracker", t.Name).Str("kind", string(kind)).Msg("tracker already registered")
			continue
		}
		r.byKey[key] = t
		added = true
	}
	if added && !r.contains(t.Name) {
		r.trackers = append(r.trackers, t)
	}
	return nil
}

func (r *Registry) contains(name string) bool {
	for _, t := range r.trackers {
		if t.Name == name {
			return true
		}
	}
	return false
}

// GetTrackers returns every registered tracker in registration order.
func (r *Registry) GetTrackers() []*Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tracker, len(r.trackers))
	copy(out, r.trackers)
	return out
}

// GetTrackersByType returns the trackers registered for a kind, in
// registration order.
func (r *Registry) GetTrackersByType(kind EntityKind) []*Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*Tracker{}
	for _, t := range r.trackers {
		if _, ok := r.byKey[registryKey{kind: kind, name: t.Name}]; ok {
			out = append(out, r.byKey[registryKey{kind: kind, name: t.Name}])
		}
	}
	return out
}

// GetTracker returns the tracker registered under name for kind.
func (r *Registry) GetTracker(kind EntityKind, name string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byKey[registryKey{kind: kind, name: name}]
	return t, ok
}

// Names returns the sorted names of all registered trackers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trackers))
	for _, t := range r.trackers {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
