// Package config loads the ambient settings that parameterize an
// Evaluator: which device to open, how long kernel source is cached
// before a hot-reload check, whether intermediates are logged, and
// where checkpoints are written. Graph loading itself stays out of
// scope — this only configures the evaluator runtime around it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EvaluatorConfig is the top-level settings document, typically loaded
// from a `tensorcl.yaml` file alongside a graph definition.
type EvaluatorConfig struct {
	DeviceIndex      int           `yaml:"device_index"`
	LogIntermediates bool          `yaml:"log_intermediates"`
	KernelSourceTTL  time.Duration `yaml:"kernel_source_ttl"`
	CheckpointDir    string        `yaml:"checkpoint_dir"`
	SessionID        string        `yaml:"session_id"`
}

// Default returns the configuration an Evaluator uses when no file is
// supplied: device 0, no intermediate logging, kernel source cached
// for 30s, and an in-memory (non-persistent) checkpoint store.
func Default() EvaluatorConfig {
	return EvaluatorConfig{
		DeviceIndex:     0,
		KernelSourceTTL: 30 * time.Second,
		SessionID:       "default",
	}
}

// NewSessionID returns a fresh, globally-unique session identifier for
// callers that don't want to coordinate one of their own (e.g. one
// evaluator session per CLI invocation against a shared checkpoint
// store).
func NewSessionID() string {
	return uuid.NewString()
}

// Load reads and parses an EvaluatorConfig from a YAML file at path,
// starting from Default() so unset fields keep their defaults.
func Load(path string) (EvaluatorConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
