package ckan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL + "/", APIKey: "secret"}, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "result": result})
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"__type": typ, "message": msg},
	})
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative"} {
		if _, err := NewClient(Config{URL: u}, nil, zerolog.Nop()); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestShow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			t.Errorf("missing api key header")
		}
		switch r.URL.Path {
		case "/api/3/action/package_show":
			writeResult(w, map[string]interface{}{"id": r.URL.Query().Get("id"), "name": "roads"})
		case "/api/3/action/resource_show":
			writeResult(w, map[string]interface{}{"id": r.URL.Query().Get("id"), "format": "CSV"})
		default:
			http.NotFound(w, r)
		}
	})

	tests := []struct {
		name  string
		kind  engine.EntityKind
		field string
		want  string
	}{
		{name: "package", kind: engine.KindPackage, field: "name", want: "roads"},
		{name: "resource", kind: engine.KindResource, field: "format", want: "CSV"},
		{name: "datastore", kind: engine.KindDatastore, field: "format", want: "CSV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := c.Show(context.Background(), tt.kind, "e1")
			if err != nil {
				t.Fatalf("failed to show: %v", err)
			}
			if snap.ID() != "e1" || snap.String(tt.field) != tt.want {
				t.Errorf("unexpected snapshot: %v", snap)
			}
		})
	}
}

func TestShow_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "ckan not found error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusNotFound, "Not Found Error", "Not found")
			},
		},
		{
			name: "plain 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nothing here", http.StatusNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Show(context.Background(), engine.KindPackage, "missing")
			if !errors.Is(err, engine.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestShow_CollaboratorFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "Authorization Error", "Access denied")
	})

	_, err := c.Show(context.Background(), engine.KindPackage, "p1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !engine.IsCollaborator(err) {
		t.Errorf("expected collaborator error, got %v", err)
	}
	if engine.IsNotFound(err) {
		t.Error("authorization errors are not not-found")
	}
}

func TestDataDictionary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/3/action/datastore_search" || q.Get("limit") != "0" || q.Get("resource_id") != "r1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		writeResult(w, map[string]interface{}{
			"resource_id": "r1",
			"fields":      []map[string]string{{"id": "_id", "type": "int"}, {"id": "name", "type": "text"}},
			"records":     []interface{}{},
		})
	})

	dict, err := c.DataDictionary(context.Background(), "r1")
	if err != nil {
		t.Fatalf("failed to read data dictionary: %v", err)
	}
	fields, ok := dict["fields"].([]interface{})
	if !ok || len(fields) != 2 {
		t.Errorf("unexpected fields: %v", dict["fields"])
	}
}

func TestLicenses_Cached(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeResult(w, []map[string]string{{"id": "cc-by", "url": "https://creativecommons.org/licenses/by/4.0/"}})
	})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		licenses, err := c.Licenses(context.Background())
		if err != nil {
			t.Fatalf("failed to list licenses: %v", err)
		}
		if len(licenses) != 1 || licenses[0].ID() != "cc-by" {
			t.Fatalf("unexpected licenses: %v", licenses)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected one call, got %d", n)
	}

	now = now.Add(DefaultLicenseTTL + time.Second)
	if _, err := c.Licenses(context.Background()); err != nil {
		t.Fatalf("failed to list licenses: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected refresh after ttl, got %d calls", n)
	}
}

func TestOrganization(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("include_datasets") != "false" {
			t.Errorf("datasets should not be requested")
		}
		writeResult(w, map[string]interface{}{"id": "org1", "geonetwork_url": "https://gn.example.org"})
	})

	org, err := c.Organization(context.Background(), "org1")
	if err != nil {
		t.Fatalf("failed to show organization: %v", err)
	}
	if org.String("geonetwork_url") != "https://gn.example.org" {
		t.Errorf("unexpected organization: %v", org)
	}
}

func TestPatchPackage(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/3/action/package_patch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		writeResult(w, map[string]interface{}{"id": "p1"})
	})

	err := c.PatchPackage(context.Background(), "p1", map[string]interface{}{
		"ckantockan_donl_status": 100,
		"ckantockan_donl_job_id": "job-1",
	})
	if err != nil {
		t.Fatalf("failed to patch package: %v", err)
	}
	if got["id"] != "p1" || got["ckantockan_donl_job_id"] != "job-1" {
		t.Errorf("unexpected patch body: %v", got)
	}
	if status, _ := got["ckantockan_donl_status"].(float64); status != 100 {
		t.Errorf("unexpected status field: %v", got["ckantockan_donl_status"])
	}
}

func TestPatchPackage_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(Config{URL: srv.URL}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	err = c.PatchPackage(context.Background(), "p1", nil)
	if !engine.IsCollaborator(err) {
		t.Errorf("expected collaborator error, got %v", err)
	}
}
