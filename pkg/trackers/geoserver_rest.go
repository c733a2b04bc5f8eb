package trackers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// GeoServerRESTConfig points at the GeoServer REST API.
type GeoServerRESTConfig struct {
	URL       string
	Workspace string
	Datastore string
	Username  string
	Password  string
	Timeout   time.Duration
}

// GeoServerREST reads feature types over the GeoServer REST API.
type GeoServerREST struct {
	cfg    GeoServerRESTConfig
	client *http.Client
}

var _ FeatureTypeLookup = (*GeoServerREST)(nil)

// NewGeoServerREST creates a lookup. A nil client uses one with cfg.Timeout.
func NewGeoServerREST(cfg GeoServerRESTConfig, client *http.Client) *GeoServerREST {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &GeoServerREST{cfg: cfg, client: client}
}

type featureTypeEnvelope struct {
	FeatureType *struct {
		Name              string `json:"name"`
		Title             string `json:"title"`
		Abstract          string `json:"abstract"`
		SRS               string `json:"srs"`
		NativeBoundingBox *struct {
			MinX float64 `json:"minx"`
			MaxX float64 `json:"maxx"`
			MinY float64 `json:"miny"`
			MaxY float64 `json:"maxy"`
		} `json:"nativeBoundingBox"`
	} `json:"featureType"`
}

// FeatureType implements FeatureTypeLookup. A 404 is reported as nil.
func (g *GeoServerREST) FeatureType(ctx context.Context, name string) (*FeatureType, error) {
	endpoint := fmt.Sprintf("%s/rest/workspaces/%s/datastores/%s/featuretypes/%s.json",
		g.cfg.URL,
		url.PathEscape(g.cfg.Workspace),
		url.PathEscape(g.cfg.Datastore),
		url.PathEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.Username != "" {
		req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature type %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geoserver returned %d for feature type %s: %s", resp.StatusCode, name, strings.TrimSpace(string(body)))
	}

	var env featureTypeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode feature type %s: %w", name, err)
	}
	if env.FeatureType == nil {
		return nil, nil
	}

	ft := &FeatureType{
		Name:        env.FeatureType.Title,
		Description: env.FeatureType.Abstract,
		LayerSRID:   strings.TrimPrefix(env.FeatureType.SRS, "EPSG:"),
	}
	if ft.Name == "" {
		ft.Name = env.FeatureType.Name
	}
	if bb := env.FeatureType.NativeBoundingBox; bb != nil {
		ft.LayerExtent = []float64{bb.MinX, bb.MinY, bb.MaxX, bb.MaxY}
	}
	return ft, nil
}
