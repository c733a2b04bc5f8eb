package trackers

import (
	"context"
	"testing"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

func TestGeoNetwork(t *testing.T) {
	linkOn := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "True"})
	linkOff := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "False"})
	turnedOn := engine.CompareSnapshots(linkOff, linkOn, engine.FieldFilter{})
	turnedOff := engine.CompareSnapshots(linkOn, linkOff, engine.FieldFilter{})

	withServices := resource("r1", map[string]interface{}{FieldWFSURL: "http://gs/wfs", FieldWMSURL: "http://gs/wms"})
	registered := resource("r1", map[string]interface{}{FieldGeoNetworkURL: "http://gn/record/1"})
	bare := resource("r1", nil)

	tests := []struct {
		name    string
		in      engine.Input
		outcome engine.Outcome
		cmd     engine.Command
	}{
		{name: "package delete linked", in: packageInput(engine.PhaseDelete, nil, linkOn), outcome: engine.OutcomeProceed, cmd: CmdDeletePackage},
		{name: "package purge linked", in: packageInput(engine.PhasePurge, nil, linkOn), outcome: engine.OutcomeProceed, cmd: CmdDeletePackage},
		{name: "package delete unlinked", in: packageInput(engine.PhaseDelete, nil, linkOff), outcome: engine.OutcomeNone},
		{name: "update without link change", in: resourceInput(engine.PhaseUpdate, bare, withServices, linkOn, nil), outcome: engine.OutcomeNone},
		{name: "link on with services", in: resourceInput(engine.PhaseUpdate, withServices, withServices, linkOn, turnedOn), outcome: engine.OutcomeProceed, cmd: CmdCreateDatasource},
		{name: "link on without services", in: resourceInput(engine.PhaseUpdate, bare, bare, linkOn, turnedOn), outcome: engine.OutcomeNone},
		{name: "link off with record", in: resourceInput(engine.PhaseUpdate, registered, registered, linkOff, turnedOff), outcome: engine.OutcomeProceed, cmd: CmdDeleteDatasource},
		{name: "link off without record", in: resourceInput(engine.PhaseUpdate, bare, bare, linkOff, turnedOff), outcome: engine.OutcomeNone},
		{name: "resource delete with record", in: resourceInput(engine.PhaseDelete, nil, registered, linkOn, nil), outcome: engine.OutcomeProceed, cmd: CmdDeleteDatasource},
		{name: "resource purge without record", in: resourceInput(engine.PhasePurge, nil, bare, linkOn, nil), outcome: engine.OutcomeNone},
		{name: "resource create ignored", in: resourceInput(engine.PhaseCreate, nil, withServices, linkOn, nil), outcome: engine.OutcomeNone},
	}

	tr := NewGeoNetwork(GeoNetworkConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecision(t, tr.Decide(context.Background(), tt.in), tt.outcome, tt.cmd)
		})
	}
}

func TestGeoNetworkCallback(t *testing.T) {
	tr := NewGeoNetwork(GeoNetworkConfig{})
	linked := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "True"})
	withServices := resource("r1", map[string]interface{}{FieldWFSURL: "http://gs/wfs", FieldWMSURL: "http://gs/wms"})
	registered := resource("r1", map[string]interface{}{FieldGeoNetworkURL: "http://gn/record/1"})

	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackCreated, withServices, linked), engine.OutcomeProceed, CmdCreateDatasource)
	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackUpdated, registered, linked), engine.OutcomeProceed, CmdDeleteDatasource)
	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackDeleted, registered, linked), engine.OutcomeProceed, CmdDeleteDatasource)
	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackCreated, withServices, pkg("p1", nil)), engine.OutcomeNone, "")
}

func TestGeoNetworkHiddenPackage(t *testing.T) {
	public := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "True"})
	private := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "True", "private": true})
	draft := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "True", "state": engine.StateDraft})
	unlinked := pkg("p1", map[string]interface{}{FieldGeoNetworkLink: "False", "private": true})
	withServices := resource("r1", map[string]interface{}{FieldWFSURL: "http://gs/wfs", FieldWMSURL: "http://gs/wms"})
	registered := resource("r1", map[string]interface{}{FieldGeoNetworkURL: "http://gn/record/1"})

	tests := []struct {
		name    string
		privacy engine.PrivacyPolicy
		in      engine.Input
		outcome engine.Outcome
		cmd     engine.Command
	}{
		{
			name:    "link on while private",
			in:      resourceInput(engine.PhaseUpdate, withServices, withServices, private, engine.CompareSnapshots(unlinked, private, engine.FieldFilter{})),
			outcome: engine.OutcomeNone,
		},
		{
			name:    "link on while draft",
			in:      resourceInput(engine.PhaseUpdate, withServices, withServices, draft, engine.CompareSnapshots(pkg("p1", map[string]interface{}{"state": engine.StateDraft}), draft, engine.FieldFilter{})),
			outcome: engine.OutcomeNone,
		},
		{
			name:    "link off while private still deletes",
			in:      resourceInput(engine.PhaseUpdate, registered, registered, unlinked, engine.CompareSnapshots(private, unlinked, engine.FieldFilter{})),
			outcome: engine.OutcomeProceed,
			cmd:     CmdDeleteDatasource,
		},
		{name: "went private", in: packageInput(engine.PhaseUpdate, public, private), outcome: engine.OutcomeCompensate, cmd: CmdDeletePackage},
		{name: "went back to draft", in: packageInput(engine.PhaseUpdate, public, draft), outcome: engine.OutcomeCompensate, cmd: CmdDeletePackage},
		{name: "stays private", in: packageInput(engine.PhaseUpdate, private, private), outcome: engine.OutcomeNone},
		{
			name:    "stays private when deleting while private",
			privacy: engine.PrivacyDeleteWhenPrivate,
			in:      packageInput(engine.PhaseUpdate, private, private),
			outcome: engine.OutcomeCompensate,
			cmd:     CmdDeletePackage,
		},
		{name: "went private unlinked", in: packageInput(engine.PhaseUpdate, pkg("p1", nil), pkg("p1", map[string]interface{}{"private": true})), outcome: engine.OutcomeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewGeoNetwork(GeoNetworkConfig{Privacy: tt.privacy})
			assertDecision(t, tr.Decide(context.Background(), tt.in), tt.outcome, tt.cmd)
		})
	}

	tr := NewGeoNetwork(GeoNetworkConfig{})
	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackCreated, withServices, private), engine.OutcomeNone, "")
	assertDecision(t, tr.OnCallback(context.Background(), engine.CallbackDeleted, registered, private), engine.OutcomeProceed, CmdDeleteDatasource)
}
