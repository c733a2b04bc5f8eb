package engine

import (
	"fmt"
	"sort"
	"strings"
)

// EntityKind identifies the kind of catalog entity a tracker acts upon.
type EntityKind string

const (
	// KindPackage is a dataset.
	KindPackage EntityKind = "package"

	// KindResource is a file or table inside a dataset.
	KindResource EntityKind = "resource"

	// KindDatastore is the tabular datastore behind a resource.
	KindDatastore EntityKind = "datastore"
)

// Validate checks if the entity kind is known.
func (k EntityKind) Validate() error {
	switch k {
	case KindPackage, KindResource, KindDatastore:
		return nil
	default:
		return NewValidationError(fmt.Sprintf("invalid entity kind: %q", string(k)))
	}
}

// UsesResourcePayload reports whether jobs for this kind carry the four
// element payload (configuration, package, resource, data dictionary).
func (k EntityKind) UsesResourcePayload() bool {
	return k == KindResource || k == KindDatastore
}

// Entity states used by the host catalog.
const (
	StateActive  = "active"
	StateDeleted = "deleted"
	StateDraft   = "draft"
)

// Snapshot is the field map of a package or resource as returned by a show call.
// The core never mutates a snapshot it did not create.
type Snapshot map[string]interface{}

// ID returns the "id" field or an empty string.
func (s Snapshot) ID() string {
	return s.String("id")
}

// State returns the "state" field or an empty string.
func (s Snapshot) State() string {
	return s.String("state")
}

// Has reports whether the field is present at all.
func (s Snapshot) Has(field string) bool {
	if s == nil {
		return false
	}
	_, ok := s[field]
	return ok
}

// String returns the field as a string. Non-string scalars are formatted;
// missing and nil values yield "".
func (s Snapshot) String(field string) string {
	if s == nil {
		return ""
	}
	v, ok := s[field]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Bool returns the field interpreted as a boolean. JSON booleans are taken
// as-is and strings are compared case-insensitively against "true".
func (s Snapshot) Bool(field string) bool {
	if s == nil {
		return false
	}
	switch v := s[field].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// NonEmpty reports whether the field holds a value the host would consider set.
func (s Snapshot) NonEmpty(field string) bool {
	if s == nil {
		return false
	}
	return !isEmptyValue(s[field])
}

// Clone returns a shallow copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Resources returns the embedded resource snapshots of a package snapshot.
func (s Snapshot) Resources() []Snapshot {
	if s == nil {
		return nil
	}
	switch raw := s["resources"].(type) {
	case []Snapshot:
		return raw
	case []map[string]interface{}:
		out := make([]Snapshot, 0, len(raw))
		for _, r := range raw {
			out = append(out, Snapshot(r))
		}
		return out
	case []interface{}:
		out := make([]Snapshot, 0, len(raw))
		for _, r := range raw {
			switch m := r.(type) {
			case map[string]interface{}:
				out = append(out, Snapshot(m))
			case Snapshot:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// WithoutResources returns a copy of the package snapshot with the
// embedded resources removed, plus the resources keyed by id.
func (s Snapshot) WithoutResources() (Snapshot, map[string]Snapshot) {
	if s == nil {
		return nil, map[string]Snapshot{}
	}
	byID := make(map[string]Snapshot)
	for _, r := range s.Resources() {
		if id := r.ID(); id != "" {
			byID[id] = r
		}
	}
	pkg := s.Clone()
	delete(pkg, "resources")
	return pkg, byID
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case float64:
		return t == 0
	case int:
		return t == 0
	default:
		return false
	}
}

// FieldChange is the before/after pair of one field. HasOld and HasNew
// distinguish a field that was absent from a field that was nil.
type FieldChange struct {
	Old    interface{} `json:"old,omitempty"`
	New    interface{} `json:"new,omitempty"`
	HasOld bool        `json:"-"`
	HasNew bool        `json:"-"`
}

// ChangeSet maps field names to their change within a single transaction.
// A field is only present when its old and new values differ.
type ChangeSet map[string]FieldChange

// Has reports whether the field changed.
func (c ChangeSet) Has(field string) bool {
	if c == nil {
		return false
	}
	_, ok := c[field]
	return ok
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// ValueWas reports whether the field changed and its previous value equals v.
func (c ChangeSet) ValueWas(field string, v interface{}) bool {
	if c == nil {
		return false
	}
	fc, ok := c[field]
	if !ok || !fc.HasOld {
		return false
	}
	return valuesEqual(fc.Old, v)
}

// Fields returns the changed field names in sorted order.
func (c ChangeSet) Fields() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Command names a worker function. Workers pattern-match on it.
type Command string

// Phase is the lifecycle phase a decision function answers for.
type Phase string

const (
	PhaseCreate Phase = "create"
	PhaseUpdate Phase = "update"
	PhaseDelete Phase = "delete"
	PhasePurge  Phase = "purge"
)

// CallbackState is reported by a cooperating tracker once it finished processing a resource.
type CallbackState string

const (
	CallbackCreated CallbackState = "created"
	CallbackUpdated CallbackState = "updated"
	CallbackDeleted CallbackState = "deleted"
)
