package queue

import (
	"fmt"
	"time"
)

// Backends a publisher can run on.
const (
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Config configures the job queue.
type Config struct {
	Backend       string        `koanf:"backend" validate:"omitempty,oneof=nats memory"`
	URL           string        `koanf:"url"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	AutoProvision bool          `koanf:"auto_provision"`
	TrackMsgID    bool          `koanf:"track_msg_id"`
	BufferSize    int64         `koanf:"buffer_size"`
	Breaker       BreakerConfig `koanf:"breaker"`
	// MemoryPersistent makes the memory backend replay every job to late
	// subscribers. Jobs are then held until the process exits.
	MemoryPersistent bool `koanf:"memory_persistent"`
}

// DefaultConfig returns a configuration for a local NATS server.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendNATS,
		URL:           "nats://127.0.0.1:4222",
		SubjectPrefix: "tracker",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		AutoProvision: true,
		TrackMsgID:    true,
		BufferSize:    256,
		Breaker:       DefaultBreakerConfig(),
	}
}

// Validate checks the configuration for the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendNATS:
		if c.URL == "" {
			return fmt.Errorf("queue url is required for the nats backend")
		}
	case BackendMemory, "":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Backend)
	}
	return nil
}

// Topic returns the topic jobs for a named queue are published on.
func (c Config) Topic(queueName string) string {
	if c.SubjectPrefix == "" {
		return queueName
	}
	return c.SubjectPrefix + "." + queueName
}
