package ckan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// DefaultLicenseTTL is how long the license register is cached.
const DefaultLicenseTTL = 10 * time.Minute

// Config points the client at a CKAN site.
type Config struct {
	// URL is the site root, e.g. https://data.example.org
	URL    string
	APIKey string
	// Timeout applies to the default HTTP client.
	Timeout time.Duration
	// LicenseTTL caches license_list; zero uses DefaultLicenseTTL, a negative
	// value disables the cache.
	LicenseTTL time.Duration
}

// Client talks to the CKAN action API. It implements engine.CatalogSource
// and engine.PackagePatcher.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger

	licenseTTL time.Duration
	mu         sync.Mutex
	licenses   []engine.Snapshot
	fetchedAt  time.Time
	now        func() time.Time
}

var (
	_ engine.CatalogSource  = (*Client)(nil)
	_ engine.PackagePatcher = (*Client)(nil)
)

// NewClient creates a client. A nil httpClient uses one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid CKAN url %q", cfg.URL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	ttl := cfg.LicenseTTL
	if ttl == 0 {
		ttl = DefaultLicenseTTL
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		client:     httpClient,
		logger:     logger.With().Str("component", "ckan-client").Logger(),
		licenseTTL: ttl,
		now:        time.Now,
	}, nil
}

// envelope is the response shape of every action.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *actionError    `json:"error"`
}

type actionError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (e *actionError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// Show implements engine.CatalogSource with package_show or resource_show.
func (c *Client) Show(ctx context.Context, kind engine.EntityKind, id string) (engine.Snapshot, error) {
	action := "package_show"
	if kind != engine.KindPackage {
		action = "resource_show"
	}
	var snap engine.Snapshot
	if err := c.get(ctx, action, url.Values{"id": {id}}, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// DataDictionary returns the datastore_search result without records.
func (c *Client) DataDictionary(ctx context.Context, resourceID string) (engine.Snapshot, error) {
	var snap engine.Snapshot
	params := url.Values{"resource_id": {resourceID}, "limit": {"0"}}
	if err := c.get(ctx, "datastore_search", params, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Licenses returns license_list, cached for the license TTL.
func (c *Client) Licenses(ctx context.Context) ([]engine.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.licenses != nil && c.licenseTTL > 0 && c.now().Sub(c.fetchedAt) < c.licenseTTL {
		return c.licenses, nil
	}

	var licenses []engine.Snapshot
	if err := c.get(ctx, "license_list", nil, &licenses); err != nil {
		return nil, err
	}
	if licenses == nil {
		licenses = []engine.Snapshot{}
	}
	c.licenses = licenses
	c.fetchedAt = c.now()
	return licenses, nil
}

// Organization returns organization_show without datasets.
func (c *Client) Organization(ctx context.Context, id string) (engine.Snapshot, error) {
	var snap engine.Snapshot
	params := url.Values{"id": {id}, "include_datasets": {"false"}}
	if err := c.get(ctx, "organization_show", params, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// PatchPackage implements engine.PackagePatcher with package_patch.
func (c *Client) PatchPackage(ctx context.Context, id string, fields map[string]interface{}) error {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["id"] = id
	return c.post(ctx, "package_patch", body, nil)
}

func (c *Client) actionURL(action string, params url.Values) string {
	u := c.baseURL + "/api/3/action/" + action
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, action string, params url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.actionURL(action, params), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, action, params.Get("id")+params.Get("resource_id"), result)
}

func (c *Client) post(ctx context.Context, action string, body map[string]interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.actionURL(action, nil), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	id, _ := body["id"].(string)
	return c.do(req, action, id, result)
}

// do executes an action call. A CKAN "Not Found Error" maps to
// engine.ErrNotFound; every other failure is a collaborator error.
func (c *Client) do(req *http.Request, action, id string, result interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return engine.NewCollaboratorError(action+" request failed", err).
			WithOperation(action).WithResource(id)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("action", action).
		Str("id", id).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("CKAN action called")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.NewCollaboratorError("failed to read "+action+" response", err).
			WithOperation(action).WithResource(id)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return engine.NewNotFoundError(action + ": not found").WithOperation(action).WithResource(id)
		}
		return engine.NewCollaboratorError(
			fmt.Sprintf("%s returned %d: %s", action, resp.StatusCode, snippet(body)), err,
		).WithOperation(action).WithResource(id)
	}

	if !env.Success {
		if resp.StatusCode == http.StatusNotFound || (env.Error != nil && env.Error.Type == "Not Found Error") {
			return engine.NewNotFoundError(action + ": " + env.Error.String()).WithOperation(action).WithResource(id)
		}
		return engine.NewCollaboratorError(
			fmt.Sprintf("%s failed with %d: %s", action, resp.StatusCode, env.Error.String()), nil,
		).WithOperation(action).WithResource(id).WithDetail("status", resp.StatusCode)
	}

	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return engine.NewCollaboratorError("failed to decode "+action+" result", err).
			WithOperation(action).WithResource(id)
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
