package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/CivityNL/ckanext-tracker/pkg/config"
	"github.com/CivityNL/ckanext-tracker/pkg/queue"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
)

// setupTestServer wires the daemon against an in-memory ledger and queue
func setupTestServer(t *testing.T) (*httptest.Server, *app) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.CKAN.URL = ""
	cfg.Store.Path = ":memory:"
	cfg.Queue.Backend = queue.BackendMemory
	cfg.Telemetry.Logging.Level = "error"
	cfg.Trackers = []string{"ckantockan_oneckan"}

	a, err := newApp(context.Background(), cfg, appOptions{dispatch: true})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}

	ts := httptest.NewServer(newServer(a).routes())
	t.Cleanup(func() {
		ts.Close()
		a.Close(context.Background())
	})
	return ts, a
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

type eventResponse struct {
	Results []dispatchView `json:"results"`
}

func linkedPackage() map[string]interface{} {
	return map[string]interface{}{
		"id":                        "p1",
		"name":                      "roads",
		"state":                     "active",
		"private":                   false,
		"dataplatform_link_enabled": "True",
	}
}

func TestHandleEvent_PackageCreateEnqueues(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/events", map[string]interface{}{
		"action": "create",
		"kind":   "package",
		"after":  linkedPackage(),
		"user":   "alice",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var body eventResponse
	decodeBody(t, resp, &body)
	if len(body.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(body.Results))
	}
	got := body.Results[0]
	if got.Outcome != "enqueued" {
		t.Errorf("expected outcome enqueued, got %q (%s)", got.Outcome, got.Reason)
	}
	if got.Command != "upsert_package" {
		t.Errorf("expected command upsert_package, got %q", got.Command)
	}
	if got.JobID == "" {
		t.Error("expected a job id")
	}
	if got.Tracker != "ckantockan_oneckan" {
		t.Errorf("expected tracker ckantockan_oneckan, got %q", got.Tracker)
	}

	statusResp, err := http.Get(ts.URL + "/api/task_status?entity_id=p1&entity_type=package&task_type=ckantockan_oneckan")
	if err != nil {
		t.Fatalf("failed to get task status: %v", err)
	}
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusResp.StatusCode)
	}
	var status stores.TaskStatus
	decodeBody(t, statusResp, &status)
	if status.State != stores.TaskStatePending {
		t.Errorf("expected state pending, got %q", status.State)
	}
	if status.Value.JobID != got.JobID {
		t.Errorf("expected job id %s, got %s", got.JobID, status.Value.JobID)
	}
}

func TestHandleEvent_NoActionForPrivatePackage(t *testing.T) {
	ts, _ := setupTestServer(t)

	pkg := linkedPackage()
	pkg["private"] = true
	resp := postJSON(t, ts.URL+"/api/events", map[string]interface{}{
		"action": "create",
		"kind":   "package",
		"after":  pkg,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var body eventResponse
	decodeBody(t, resp, &body)
	for _, r := range body.Results {
		if r.Outcome == "enqueued" {
			t.Errorf("expected no job for a private package, got %+v", r)
		}
	}
}

func TestHandleEvent_Validation(t *testing.T) {
	ts, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"action":`},
		{name: "unknown action", body: `{"action":"rename","kind":"package","after":{"id":"p1"}}`},
		{name: "unknown kind", body: `{"action":"create","kind":"group","after":{"id":"p1"}}`},
		{name: "resource without package", body: `{"action":"create","kind":"resource","after":{"id":"r1"}}`},
		{name: "purge without id", body: `{"action":"purge","kind":"package"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("failed to post event: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}

			var body map[string]apiError
			decodeBody(t, resp, &body)
			if body["error"].Code != "VALIDATION_ERROR" {
				t.Errorf("expected validation error code, got %+v", body["error"])
			}
		})
	}
}

func TestHandleReport(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/task_status", map[string]interface{}{
		"entity_id":   "p1",
		"entity_type": "package",
		"task_type":   "ckantockan_oneckan",
		"state":       "complete",
		"job_id":      "job-1",
		"remote_id":   "remote-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status stores.TaskStatus
	decodeBody(t, resp, &status)
	if status.State != stores.TaskStateComplete {
		t.Errorf("expected state complete, got %q", status.State)
	}
	if status.Value.RemoteID != "remote-1" {
		t.Errorf("expected remote id remote-1, got %q", status.Value.RemoteID)
	}

	bad := postJSON(t, ts.URL+"/api/task_status", map[string]interface{}{
		"entity_id":   "p1",
		"entity_type": "package",
		"task_type":   "ckantockan_oneckan",
		"state":       "pending",
	})
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-worker state, got %d", bad.StatusCode)
	}
}

func TestHandleShowTaskStatus_Errors(t *testing.T) {
	ts, _ := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "missing key", query: "entity_id=p1", want: http.StatusBadRequest},
		{name: "unknown entity", query: "entity_id=nope&entity_type=package&task_type=ckantockan_oneckan", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/task_status?" + tt.query)
			if err != nil {
				t.Fatalf("failed to get task status: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestHandleOverview(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/events", map[string]interface{}{
		"action": "create",
		"kind":   "package",
		"after":  linkedPackage(),
	})
	resp.Body.Close()

	overview, err := http.Get(ts.URL + "/api/trackers/package/p1")
	if err != nil {
		t.Fatalf("failed to get overview: %v", err)
	}
	if overview.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", overview.StatusCode)
	}
	var body struct {
		Trackers []struct {
			Name   string             `json:"name"`
			Status *stores.TaskStatus `json:"status"`
		} `json:"trackers"`
	}
	decodeBody(t, overview, &body)
	if len(body.Trackers) != 1 {
		t.Fatalf("expected 1 tracker, got %d", len(body.Trackers))
	}
	if body.Trackers[0].Status == nil || body.Trackers[0].Status.State != stores.TaskStatePending {
		t.Errorf("expected a pending status, got %+v", body.Trackers[0].Status)
	}

	unknown, err := http.Get(ts.URL + "/api/trackers/group/p1")
	if err != nil {
		t.Fatalf("failed to get overview: %v", err)
	}
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown kind, got %d", unknown.StatusCode)
	}
}

func TestHandleListTrackers(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/trackers")
	if err != nil {
		t.Fatalf("failed to list trackers: %v", err)
	}
	var body struct {
		Trackers []struct {
			Name string `json:"name"`
		} `json:"trackers"`
	}
	decodeBody(t, resp, &body)
	if len(body.Trackers) != 1 || body.Trackers[0].Name != "ckantockan_oneckan" {
		t.Errorf("unexpected trackers: %+v", body.Trackers)
	}
}

func TestHandleHealth(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("failed to get health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["queue_breaker"] == "" {
		t.Error("expected the queue breaker state")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("failed to get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
