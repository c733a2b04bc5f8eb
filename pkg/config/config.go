package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/CivityNL/ckanext-tracker/pkg/queue"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
	"github.com/CivityNL/ckanext-tracker/pkg/telemetry"
)

// Config is the complete tracker daemon configuration.
type Config struct {
	CKAN      CKANConfig       `koanf:"ckan"`
	Queue     queue.Config     `koanf:"queue"`
	Store     StoreConfig      `koanf:"store"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Policy    PolicyConfig     `koanf:"policy"`
	Server    ServerConfig     `koanf:"server"`

	// Trackers lists the enabled trackers by name, in registration order.
	Trackers []string `koanf:"trackers" validate:"dive,required"`

	// Settings is the flat ckanext.<tracker>.<key> map. It is filled from the
	// settings section after loading because koanf splits dotted keys.
	Settings map[string]string `koanf:"-"`
}

// CKANConfig points at the host catalog API.
type CKANConfig struct {
	// URL is the site URL, e.g. https://data.example.org
	URL     string        `koanf:"url" validate:"omitempty,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// StoreConfig selects and configures the task status ledger.
type StoreConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=sqlite postgres"`
	Path            string        `koanf:"path" validate:"required_if=Driver sqlite"`
	DSN             string        `koanf:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// RevisionRetention prunes revisions older than this on startup; zero
	// keeps everything.
	RevisionRetention time.Duration `koanf:"revision_retention"`
}

// Stores returns the store package configuration.
func (s StoreConfig) Stores() stores.Config {
	return stores.Config{
		Path:            s.Path,
		DSN:             s.DSN,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
	}
}

// PolicyConfig configures the operator supplied before-enqueue rules.
type PolicyConfig struct {
	Enabled bool `koanf:"enabled"`
	// Paths are directories or .rego files to load.
	Paths []string `koanf:"paths"`
	// Package is the rego package whose skip set is queried.
	Package string `koanf:"package" validate:"required_if=Enabled true"`
	// Watch reloads the rules when a file under Paths changes.
	Watch bool `koanf:"watch"`
	// Builtins lists the builtin rules to load next to the files.
	Builtins []string `koanf:"builtins"`
}

// ServerConfig configures the HTTP intake.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns a configuration that runs against a local NATS server
// with an SQLite ledger next to the binary.
func DefaultConfig() *Config {
	return &Config{
		CKAN: CKANConfig{
			URL:     "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Queue: queue.DefaultConfig(),
		Store: StoreConfig{
			Driver:          stores.DriverSQLite,
			Path:            "tracker.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Policy: PolicyConfig{
			Package:  "tracker",
			Builtins: []string{"skip_missing_id"},
		},
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Trackers: []string{},
		Settings: map[string]string{},
	}
}

// Validate runs the struct tag rules and the section validators.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("invalid queue configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Trackers))
	for _, name := range c.Trackers {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("tracker %q is enabled twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Tracker returns the settings of one tracker.
func (c *Config) Tracker(name string) TrackerSettings {
	return NewTrackerSettings(name, c.Settings)
}
