package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar is the environment variable that names the config file.
const PathEnvVar = "TRACKER_CONFIG"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRACKER_"

// settingsKey is the section holding the flat ckanext map.
const settingsKey = "settings"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"tracker.yaml",
	"tracker.yml",
	"/etc/ckanext-tracker/tracker.yaml",
}

// Load reads defaults, then the YAML file at path (or the one named by
// TRACKER_CONFIG, or the first of DefaultPaths that exists), then TRACKER_
// environment variables, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListFields(k, "trackers", "policy.paths", "policy.builtins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Settings = flattenSettings(k.Cut(settingsKey))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps TRACKER_QUEUE__URL to queue.url. A single underscore
// stays part of the key name.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "CONFIG" {
		// the file path itself, not a setting
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// splitListFields turns comma separated strings from the environment into
// slices.
func splitListFields(k *koanf.Koanf, paths ...string) error {
	for _, path := range paths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		items := []string{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func flattenSettings(k *koanf.Koanf) map[string]string {
	all := k.All()
	settings := make(map[string]string, len(all))
	for key, value := range all {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			settings[key] = v
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			settings[key] = strings.Join(parts, " ")
		default:
			settings[key] = fmt.Sprint(v)
		}
	}
	return settings
}
