package engine

import "testing"

func TestLinkEnabled(t *testing.T) {
	tests := []struct {
		name string
		pkg  Snapshot
		want bool
	}{
		{"absent", Snapshot{}, false},
		{"explicit false", Snapshot{"geoserver_link_enabled": "False"}, false},
		{"true", Snapshot{"geoserver_link_enabled": "True"}, true},
		{"lowercase is not the serialized flag", Snapshot{"geoserver_link_enabled": "true"}, false},
		{"nil snapshot", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LinkEnabled(tt.pkg, "geoserver_link_enabled"); got != tt.want {
				t.Errorf("LinkEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLinkTurnedOff(t *testing.T) {
	pkg := Snapshot{"donl_link_enabled": "False"}
	changes := ChangeSet{"donl_link_enabled": {Old: "True", New: "False", HasOld: true, HasNew: true}}
	if !LinkTurnedOff(pkg, changes, "donl_link_enabled") {
		t.Error("expected link to be turned off")
	}
	if LinkTurnedOff(pkg, ChangeSet{}, "donl_link_enabled") {
		t.Error("no change means the link was not turned off")
	}
}

func TestIsPrivate(t *testing.T) {
	for _, v := range []interface{}{true, "True", "true"} {
		if !IsPrivate(Snapshot{"private": v}) {
			t.Errorf("expected %v to be private", v)
		}
	}
	for _, v := range []interface{}{false, "False", nil, 1} {
		if IsPrivate(Snapshot{"private": v}) {
			t.Errorf("expected %v to be public", v)
		}
	}
}

func TestPrivacyPolicyCorrective(t *testing.T) {
	wentPrivate := ChangeSet{"private": {Old: false, New: true, HasOld: true, HasNew: true}}
	wentDraft := ChangeSet{"state": {Old: "active", New: "draft", HasOld: true, HasNew: true}}

	tests := []struct {
		name    string
		policy  PrivacyPolicy
		pkg     Snapshot
		changes ChangeSet
		want    bool
	}{
		{"transition to private", PrivacyDeleteOnTransition, Snapshot{"private": true}, wentPrivate, true},
		{"transition to draft", PrivacyDeleteOnTransition, Snapshot{"state": "draft"}, wentDraft, true},
		{"already private", PrivacyDeleteOnTransition, Snapshot{"private": true}, ChangeSet{"title": {Old: "a", New: "b", HasOld: true, HasNew: true}}, false},
		{"public", PrivacyDeleteOnTransition, Snapshot{"private": false}, ChangeSet{}, false},
		{"when private fires without transition", PrivacyDeleteWhenPrivate, Snapshot{"private": true}, ChangeSet{}, true},
		{"when private ignores public", PrivacyDeleteWhenPrivate, Snapshot{"private": false}, wentPrivate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.policy.Corrective(tt.pkg, tt.changes)
			if got != tt.want {
				t.Errorf("Corrective() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrivacyPolicyValidate(t *testing.T) {
	if err := PrivacyDeleteOnTransition.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := PrivacyPolicy("sometimes").Validate(); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDecisionEnqueues(t *testing.T) {
	tests := []struct {
		decision Decision
		want     bool
	}{
		{NoAction(""), false},
		{Skip("draft"), false},
		{Proceed("upsert_package"), true},
		{Proceed(""), false},
		{Compensate("purge_package", "private"), true},
	}
	for _, tt := range tests {
		if got := tt.decision.Enqueues(); got != tt.want {
			t.Errorf("%s.Enqueues() = %v, want %v", tt.decision, got, tt.want)
		}
	}
}
