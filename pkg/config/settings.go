package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Keys every tracker understands.
const (
	KeyJobTimeout    = "redis_job_timeout"
	KeyJobResultTTL  = "redis_job_result_ttl"
	KeyJobTTL        = "redis_job_ttl"
	KeyBadgeTitle    = "badge_title"
	KeyShowUI        = "show_ui"
	KeyShowBadge     = "show_badge"
	KeyQueueName     = "queue_name"
	KeyPrivacyPolicy = "privacy_policy"
)

// TrackerSettings reads ckanext.<name>.<key> values for one tracker.
type TrackerSettings struct {
	name   string
	values map[string]string
}

// NewTrackerSettings returns the settings of name within the flat map.
func NewTrackerSettings(name string, values map[string]string) TrackerSettings {
	return TrackerSettings{name: name, values: values}
}

// Name returns the tracker name.
func (s TrackerSettings) Name() string {
	return s.name
}

// Key returns the full setting key.
func (s TrackerSettings) Key(key string) string {
	return "ckanext." + s.name + "." + key
}

// Lookup returns the raw value and whether it is set.
func (s TrackerSettings) Lookup(key string) (string, bool) {
	v, ok := s.values[s.Key(key)]
	return v, ok
}

// String returns the value or def when unset.
func (s TrackerSettings) String(key, def string) string {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return def
}

// Bool parses the value the way CKAN's asbool does.
func (s TrackerSettings) Bool(key string, def bool) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "y", "t", "1":
		return true
	case "false", "no", "off", "n", "f", "0", "":
		return false
	default:
		return def
	}
}

// Duration reads a whole number of seconds.
func (s TrackerSettings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: expected seconds, got %q", s.Key(key), v)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%s: must not be negative", s.Key(key))
	}
	return time.Duration(secs) * time.Second, nil
}

// OptionalDuration is Duration without a default; unset returns nil.
func (s TrackerSettings) OptionalDuration(key string) (*time.Duration, error) {
	if v, ok := s.Lookup(key); !ok || strings.TrimSpace(v) == "" {
		return nil, nil
	}
	d, err := s.Duration(key, 0)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// List splits the value on whitespace and commas.
func (s TrackerSettings) List(key string, def []string) []string {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Privacy returns the configured privacy policy or def.
func (s TrackerSettings) Privacy(def engine.PrivacyPolicy) (engine.PrivacyPolicy, error) {
	v, ok := s.Lookup(KeyPrivacyPolicy)
	if !ok || v == "" {
		return def, nil
	}
	p := engine.PrivacyPolicy(v)
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", s.Key(KeyPrivacyPolicy), err)
	}
	return p, nil
}

// Job returns the job timeout, result retention and queue TTL.
func (s TrackerSettings) Job() (engine.JobSettings, error) {
	job := engine.DefaultJobSettings()
	var err error
	if job.Timeout, err = s.Duration(KeyJobTimeout, job.Timeout); err != nil {
		return job, err
	}
	if job.ResultTTL, err = s.Duration(KeyJobResultTTL, job.ResultTTL); err != nil {
		return job, err
	}
	if job.TTL, err = s.OptionalDuration(KeyJobTTL); err != nil {
		return job, err
	}
	return job, nil
}

// Snapshot returns every ckanext.<name>.* setting keyed by its short name.
// It is handed to workers as the tracker configuration.
func (s TrackerSettings) Snapshot() engine.Snapshot {
	prefix := s.Key("")
	snap := engine.Snapshot{}
	for k, v := range s.values {
		if strings.HasPrefix(k, prefix) {
			snap[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return snap
}
