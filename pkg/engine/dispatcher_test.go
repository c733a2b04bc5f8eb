package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

func testTracker(name string, kinds ...EntityKind) *Tracker {
	t := &Tracker{
		Descriptor:    Descriptor{Name: name, Kinds: kinds},
		Configuration: Snapshot{"geoserver_url": "http://geoserver"},
		Policies:      Policies{},
	}
	_ = t.Validate()
	return t
}

func newTestDispatcher(q *mockQueue, l *mockLedger, c CatalogSource) *Dispatcher {
	return NewDispatcher(q, l, c, zerolog.Nop())
}

func packageRequest(decision Decision) DispatchRequest {
	return DispatchRequest{
		Kind:     KindPackage,
		Phase:    PhaseUpdate,
		Decision: decision,
		Entity:   Snapshot{"id": "p1", "name": "dataset"},
	}
}

func TestDispatchNoAction(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	res := d.Dispatch(context.Background(), testTracker("geoserver", KindPackage), packageRequest(NoAction("")))
	if res.Outcome != DispatchNone {
		t.Errorf("expected none, got %s", res.Outcome)
	}
	if len(q.jobs) != 0 || len(l.records) != 0 {
		t.Error("no action must not enqueue or write the ledger")
	}
}

func TestDispatchEnqueues(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)
	obs := &recordingObserver{}
	d.SetObserver(obs)

	tracker := testTracker("geoserver", KindPackage)
	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("delete_package")))

	if res.Outcome != DispatchEnqueued {
		t.Fatalf("expected enqueued, got %s (%v)", res.Outcome, res.Err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(q.jobs))
	}

	job := q.jobs[0]
	if job.Command != "delete_package" || job.Queue != "geoserver" {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.Timeout != DefaultJobTimeout || job.ResultTTL != DefaultJobResultTTL || job.TTL != nil {
		t.Errorf("unexpected job settings: %v %v %v", job.Timeout, job.ResultTTL, job.TTL)
	}
	if want := "Job for action [delete_package] on package [p1] created by geoserver"; job.Description != want {
		t.Errorf("description = %q, want %q", job.Description, want)
	}
	if len(job.Args) != Arity(KindPackage) {
		t.Errorf("expected %d args, got %d", Arity(KindPackage), len(job.Args))
	}

	status := l.get(KindPackage, "p1", "geoserver")
	if status == nil || status.State != stores.TaskStatePending {
		t.Fatalf("expected pending record, got %+v", status)
	}
	if status.Value.JobID != job.ID || status.Value.Command != "delete_package" {
		t.Errorf("unexpected record value: %+v", status.Value)
	}
	if got := l.history; len(got) != 2 || got[0] != stores.TaskStateCreated || got[1] != stores.TaskStatePending {
		t.Errorf("expected created then pending, got %v", got)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != DispatchEnqueued || obs.enqueues != 1 {
		t.Errorf("unexpected observations: %+v", obs)
	}
}

func TestDispatchBrokerUnavailable(t *testing.T) {
	q, l := &mockQueue{err: errBrokerUnavailable}, newMockLedger()
	d := newTestDispatcher(q, l, nil)
	obs := &recordingObserver{}
	d.SetObserver(obs)

	res := d.Dispatch(context.Background(), testTracker("geoserver", KindPackage), packageRequest(Proceed("delete_package")))

	if res.Outcome != DispatchFailed {
		t.Fatalf("expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, errBrokerUnavailable) || !IsTransient(res.Err) {
		t.Errorf("expected a transient broker error, got %v", res.Err)
	}

	status := l.get(KindPackage, "p1", "geoserver")
	if status == nil || status.State != stores.TaskStateError {
		t.Fatalf("expected error record, got %+v", status)
	}
	if status.Error == nil || !strings.Contains(*status.Error, "broker unavailable") {
		t.Errorf("expected captured message, got %v", status.Error)
	}
	if obs.failures != 1 {
		t.Errorf("expected one enqueue failure, got %d", obs.failures)
	}
}

func TestDispatchLedgerFailure(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	l.upsertErr = errors.New("database is locked")
	d := newTestDispatcher(q, l, nil)

	res := d.Dispatch(context.Background(), testTracker("ogr", KindResource), DispatchRequest{
		Kind:     KindResource,
		Phase:    PhaseCreate,
		Decision: Proceed("create_resource"),
		Entity:   Snapshot{"id": "r1"},
	})
	if res.Outcome != DispatchFailed {
		t.Errorf("expected failed, got %s", res.Outcome)
	}
	if len(q.jobs) != 0 {
		t.Error("nothing may be enqueued without a ledger record")
	}
}

func TestDispatchVeto(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	tracker := testTracker("ckantockan_donl", KindPackage)
	tracker.BeforeEnqueue = func(ctx context.Context, job *Job, in Input) Decision {
		if in.User == "automation" {
			return Skip("sync loopback")
		}
		return Proceed(job.Command)
	}

	req := packageRequest(Proceed("upsert_package"))
	req.User = "automation"
	res := d.Dispatch(context.Background(), tracker, req)

	if res.Outcome != DispatchSkipped || res.Reason != "sync loopback" {
		t.Errorf("expected skipped with reason, got %+v", res)
	}
	if len(q.jobs) != 0 || len(l.records) != 0 {
		t.Error("a veto must not enqueue or write the ledger")
	}
}

func TestDispatchGlobalHookRunsFirst(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	called := false
	d.Use(EnqueueHookFunc(func(ctx context.Context, job *Job, in Input) Decision {
		return Skip("rule")
	}))
	tracker := testTracker("geoserver", KindPackage)
	tracker.BeforeEnqueue = func(ctx context.Context, job *Job, in Input) Decision {
		called = true
		return Proceed(job.Command)
	}

	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("delete_package")))
	if res.Outcome != DispatchSkipped || res.Reason != "rule" {
		t.Errorf("expected global veto, got %+v", res)
	}
	if called {
		t.Error("tracker hook must not run after a global veto")
	}
}

func TestDispatchCompensate(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	tracker := testTracker("ckantockan_oneckan", KindPackage)
	tracker.BeforeEnqueue = func(ctx context.Context, job *Job, in Input) Decision {
		if job.Command != "purge_package" {
			return Compensate("purge_package", "package is private")
		}
		return Proceed(job.Command)
	}

	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("upsert_package")))
	if res.Outcome != DispatchEnqueued || !res.Compensated {
		t.Fatalf("expected compensated enqueue, got %+v", res)
	}
	if cmds := q.commands(); len(cmds) != 1 || cmds[0] != "purge_package" {
		t.Errorf("expected only purge_package, got %v", cmds)
	}
	if status := l.get(KindPackage, "p1", "ckantockan_oneckan"); status.Value.Command != "purge_package" {
		t.Errorf("ledger should carry the corrective command, got %s", status.Value.Command)
	}
}

func TestDispatchCompensateOnce(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	tracker := testTracker("loop", KindPackage)
	tracker.BeforeEnqueue = func(ctx context.Context, job *Job, in Input) Decision {
		if job.Command == "a" {
			return Compensate("b", "")
		}
		return Compensate("a", "")
	}

	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("a")))
	if res.Outcome != DispatchSkipped {
		t.Errorf("expected nested compensation to stop, got %s", res.Outcome)
	}
	if len(q.jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(q.jobs))
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	tracker := testTracker("geoserver", KindPackage)
	tracker.BeforeEnqueue = func(ctx context.Context, job *Job, in Input) Decision {
		panic("boom")
	}

	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("delete_package")))
	if res.Outcome != DispatchFailed {
		t.Fatalf("expected failed, got %s", res.Outcome)
	}
	status := l.get(KindPackage, "p1", "geoserver")
	if status == nil || status.State != stores.TaskStateError {
		t.Errorf("expected error record, got %+v", status)
	}
}

func TestDispatchAfterEnqueueFailureIsIgnored(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	tracker := testTracker("ckantockan_donl", KindPackage)
	tracker.AfterEnqueue = func(ctx context.Context, job *Job, in Input) error {
		return errors.New("package_patch failed")
	}

	res := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("upsert_package")))
	if res.Outcome != DispatchEnqueued {
		t.Errorf("expected enqueued, got %s", res.Outcome)
	}
	if status := l.get(KindPackage, "p1", "ckantockan_donl"); status.State != stores.TaskStatePending {
		t.Errorf("expected pending, got %s", status.State)
	}
}

func TestDispatchTwiceKeepsOneRecord(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)
	tracker := testTracker("geoserver", KindPackage)

	first := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("delete_package")))
	second := d.Dispatch(context.Background(), tracker, packageRequest(Proceed("delete_package")))

	if len(l.records) != 1 {
		t.Fatalf("expected one record, got %d", len(l.records))
	}
	if got := l.get(KindPackage, "p1", "geoserver").Value.JobID; got != second.Job.ID || got == first.Job.ID {
		t.Errorf("expected the second job id to win, got %s", got)
	}
}

func TestDispatchWithoutEntityID(t *testing.T) {
	q, l := &mockQueue{}, newMockLedger()
	d := newTestDispatcher(q, l, nil)

	res := d.Dispatch(context.Background(), testTracker("geoserver", KindPackage), DispatchRequest{
		Kind:     KindPackage,
		Decision: Proceed("delete_package"),
		Entity:   Snapshot{},
	})
	if res.Outcome != DispatchFailed || !IsValidation(res.Err) {
		t.Errorf("expected validation failure, got %+v", res)
	}
	if len(q.jobs) != 0 {
		t.Error("expected no jobs")
	}
}

func TestPayloadResourceArity(t *testing.T) {
	catalog := newMockCatalog()
	catalog.licenses = []Snapshot{{"id": "cc-by", "url": "http://license"}}
	catalog.orgs["org-1"] = Snapshot{"id": "org-1", "geonetwork_url": "http://gn", "geonetwork_username": "u", "geonetwork_password": "p"}
	catalog.dictionaries["r1"] = Snapshot{"fields": []interface{}{}}

	b := NewPayloadBuilder(catalog, zerolog.Nop())
	tracker := testTracker("ogr", KindResource)
	pkg := Snapshot{"id": "p1", "license_id": "cc-by", "organization": map[string]interface{}{"id": "org-1"}}

	args := b.Build(context.Background(), tracker, KindResource, Snapshot{"id": "r1"}, pkg)
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}

	conf := args[0].(Snapshot)
	if conf["task_type"] != "ogr" || conf["entity_id"] != "r1" || conf["source_job_status_field"] != "ogr_status" {
		t.Errorf("unexpected configuration: %v", conf)
	}

	enriched := args[1].(Snapshot)
	if enriched["license_url"] != "http://license" {
		t.Errorf("license_url = %v", enriched["license_url"])
	}
	org := enriched["organization"].(map[string]interface{})
	if org["geonetwork_url"] != "http://gn" {
		t.Errorf("organization not enriched: %v", org)
	}
	if _, ok := pkg["license_url"]; ok {
		t.Error("the input snapshot must not be mutated")
	}
	if args[3] == nil {
		t.Error("expected a data dictionary")
	}
}

func TestPayloadToleratesFailedLookups(t *testing.T) {
	catalog := newMockCatalog()
	catalog.orgErr = errors.New("organization_show failed")

	b := NewPayloadBuilder(catalog, zerolog.Nop())
	tracker := testTracker("geoserver", KindResource)
	pkg := Snapshot{"id": "p1", "owner_org": "org-1"}

	args := b.Build(context.Background(), tracker, KindResource, Snapshot{"id": "r1"}, pkg)
	org := args[1].(Snapshot)["organization"].(map[string]interface{})
	for _, field := range []string{"geonetwork_url", "geonetwork_username", "geonetwork_password"} {
		if v, ok := org[field]; !ok || v != nil {
			t.Errorf("expected %s to be nil, got %v", field, v)
		}
	}
	if args[3] != nil {
		t.Errorf("expected nil data dictionary, got %v", args[3])
	}

	noPackage := b.Build(context.Background(), tracker, KindResource, Snapshot{"id": "r1"}, nil)
	if noPackage[1] != nil {
		t.Errorf("expected nil package data, got %v", noPackage[1])
	}
}
