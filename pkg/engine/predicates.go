package engine

import (
	"fmt"
	"strings"
)

// LinkEnabledValue is the serialized truth value of a link flag.
const LinkEnabledValue = "True"

// LinkEnabled reports whether a link flag is set. An absent flag is false.
func LinkEnabled(s Snapshot, field string) bool {
	return s.Has(field) && s.String(field) == LinkEnabledValue
}

// LinkTurnedOff reports whether the flag was "True" before this transaction
// and is not anymore.
func LinkTurnedOff(s Snapshot, changes ChangeSet, field string) bool {
	return !LinkEnabled(s, field) && changes.ValueWas(field, LinkEnabledValue)
}

// IsPrivate reports whether the package is private.
func IsPrivate(s Snapshot) bool {
	return truthy(s["private"])
}

// IsDraft reports whether the entity is still a draft.
func IsDraft(s Snapshot) bool {
	return s.State() == StateDraft
}

// HasID reports whether the snapshot carries a usable id.
func HasID(s Snapshot) bool {
	return s.ID() != ""
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

// PrivacyPolicy selects how a tracker reacts when a linked package is hidden
// from the public, by becoming private or returning to draft.
type PrivacyPolicy string

const (
	// PrivacyDeleteOnTransition fires one corrective delete in the transaction
	// that hides the package and suppresses every later action while it stays hidden.
	PrivacyDeleteOnTransition PrivacyPolicy = "delete_on_transition"

	// PrivacyDeleteWhenPrivate fires a corrective delete on every dispatch
	// while the package is private, regardless of its previous state.
	PrivacyDeleteWhenPrivate PrivacyPolicy = "delete_when_private"
)

// Validate checks if the privacy policy is known.
func (p PrivacyPolicy) Validate() error {
	switch p {
	case PrivacyDeleteOnTransition, PrivacyDeleteWhenPrivate:
		return nil
	default:
		return NewValidationError(fmt.Sprintf("invalid privacy policy: %q", string(p)))
	}
}

// Hidden reports whether the package must not be forwarded to public catalogs.
func Hidden(s Snapshot) bool {
	return IsPrivate(s) || IsDraft(s)
}

// WentHidden reports whether this transaction made the package private or draft.
func WentHidden(s Snapshot, changes ChangeSet) bool {
	if IsPrivate(s) && changes.Has("private") {
		fc := changes["private"]
		if !fc.HasOld || !truthy(fc.Old) {
			return true
		}
	}
	if IsDraft(s) && changes.Has("state") {
		fc := changes["state"]
		if fc.HasOld && fc.Old != StateDraft {
			return true
		}
	}
	return false
}

// Corrective reports whether the policy demands a delete for the package in
// its current state. Callers still apply their own link-flag gating.
func (p PrivacyPolicy) Corrective(s Snapshot, changes ChangeSet) (bool, string) {
	switch p {
	case PrivacyDeleteWhenPrivate:
		if IsPrivate(s) {
			return true, "package is private"
		}
		return false, ""
	default:
		if WentHidden(s, changes) {
			return true, "package went private or back to draft"
		}
		return false, ""
	}
}
