// Package config loads the kernel's own plain configuration: store backend
// selection, provider credential env-var names, attachment debounce
// intervals. It is unrelated to the workflow-authoring YAML/DSL surface
// spec.md places out of scope (spec.md §1 Non-goals) — this is ordinary
// service configuration, the same role gopkg.in/yaml.v3 plays for the
// teacher's own deployment configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Kernel is the top-level configuration document for a kernelctl
	// deployment.
	Kernel struct {
		Store      StoreConfig      `yaml:"store"`
		Session    SessionConfig    `yaml:"session"`
		Attachment AttachmentConfig `yaml:"attachment"`
		Engine     EngineConfig     `yaml:"engine"`
		Telemetry  TelemetryConfig  `yaml:"telemetry"`
	}

	// StoreConfig selects and configures the Signal Store backend.
	StoreConfig struct {
		// Backend is one of "fs" or "mongo".
		Backend string `yaml:"backend"`
		// Dir is the recordings directory for the fs backend.
		Dir string `yaml:"dir,omitempty"`
		// MongoURI is the connection string for the mongo backend.
		MongoURI string `yaml:"mongoUri,omitempty"`
		// MongoDatabase names the database the mongo backend uses.
		MongoDatabase string `yaml:"mongoDatabase,omitempty"`
	}

	// SessionConfig configures default Session Runtime behavior.
	SessionConfig struct {
		// PromptTimeout is a default HITL prompt deadline, in the sense of
		// session.PromptOptions.Deadline. Zero means no default timeout.
		// Nothing in this module reads it; WaitForUser uses only the
		// Deadline in the PromptOptions it is given.
		PromptTimeout time.Duration `yaml:"promptTimeout,omitempty"`
		// DefaultRetry holds retry defaults in the shape of
		// session.RetryOptions. Nothing in this module reads it;
		// RetryOptions applies its own built-in defaults.
		DefaultRetry RetryConfig `yaml:"defaultRetry"`
		// DefaultParallelConcurrency is a default concurrency cap for
		// parallel(name, fns). Nothing in this module reads it;
		// ParallelOptions applies its own built-in default.
		DefaultParallelConcurrency int `yaml:"defaultParallelConcurrency,omitempty"`
	}

	// RetryConfig mirrors session.RetryOptions for YAML configuration.
	RetryConfig struct {
		Retries    int           `yaml:"retries,omitempty"`
		MinTimeout time.Duration `yaml:"minTimeout,omitempty"`
		MaxTimeout time.Duration `yaml:"maxTimeout,omitempty"`
	}

	// AttachmentConfig configures the reference renderer attachment's
	// debounce behavior (spec.md §4.G).
	AttachmentConfig struct {
		// DebounceInterval is the idle interval before a debounced
		// attachment flushes buffered output. Defaults to 3000ms per
		// spec.md §4.G.
		DebounceInterval time.Duration `yaml:"debounceInterval,omitempty"`
		// PulseRedisAddr is a Redis address for a pulsesink attachment.
		// Nothing in this module reads it.
		PulseRedisAddr string `yaml:"pulseRedisAddr,omitempty"`
	}

	// EngineConfig selects and configures the workflow engine backend.
	EngineConfig struct {
		// Backend is one of "inmem" or "temporal".
		Backend string `yaml:"backend"`
		// TemporalHostPort is the Temporal frontend address, used when
		// Backend is "temporal".
		TemporalHostPort string `yaml:"temporalHostPort,omitempty"`
		// TemporalNamespace is the Temporal namespace to connect to.
		TemporalNamespace string `yaml:"temporalNamespace,omitempty"`
		// TaskQueue is the default Temporal task queue.
		TaskQueue string `yaml:"taskQueue,omitempty"`
	}

	// TelemetryConfig toggles the clue/OTEL telemetry implementation
	// versus the no-op default.
	TelemetryConfig struct {
		Enabled        bool   `yaml:"enabled"`
		ServiceName    string `yaml:"serviceName,omitempty"`
		OTLPEndpoint   string `yaml:"otlpEndpoint,omitempty"`
	}
)

// DefaultDebounceInterval is the reference renderer attachment's default
// debounce interval per spec.md §4.G.
const DefaultDebounceInterval = 3000 * time.Millisecond

// Default returns a Kernel configured with the spec's documented defaults.
func Default() Kernel {
	return Kernel{
		Store: StoreConfig{Backend: "fs", Dir: "./recordings"},
		Session: SessionConfig{
			DefaultRetry:               RetryConfig{Retries: 3, MinTimeout: time.Second, MaxTimeout: 5 * time.Second},
			DefaultParallelConcurrency: 5,
		},
		Attachment: AttachmentConfig{DebounceInterval: DefaultDebounceInterval},
		Engine:     EngineConfig{Backend: "inmem"},
	}
}

// Load reads and parses a Kernel configuration document from path,
// starting from Default() so unset fields keep their documented defaults.
func Load(path string) (Kernel, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Kernel{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Kernel{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
