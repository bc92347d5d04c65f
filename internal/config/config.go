// Package config loads the process-wide configuration. The struct is built
// once at startup and passed into each component constructor; nothing reads
// configuration ambiently.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/locflow/locflow/internal/fault"
)

// Config is the full engine configuration.
type Config struct {
	// Repository is a free-form reference to the content repository,
	// recorded on every session (e.g. "org/docs").
	Repository string `yaml:"repository"`

	// ContentDir is the root of the source content tree, laid out as
	// <locale>/<category>/....
	ContentDir string `yaml:"content_dir"`

	// WorkDir holds batch artifacts and session documents.
	WorkDir string `yaml:"work_dir"`

	SourceLocale  string   `yaml:"source_locale"`
	TargetLocales []string `yaml:"target_locales"`

	// Model is the default model identifier for new batches.
	Model string `yaml:"model"`

	Provider ProviderConfig `yaml:"provider"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ProviderConfig selects and configures the LLM provider.
type ProviderConfig struct {
	// Type is "openai" or "openrouter".
	Type string `yaml:"type"`

	// APIKey may be left empty to fall back to the provider's conventional
	// environment variable (OPENAI_API_KEY / OPENROUTER_API_KEY).
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string `yaml:"base_url,omitempty"`
}

// DispatchConfig tunes the staggered request queue used for direct calls.
type DispatchConfig struct {
	StaggerDelayMs    int `yaml:"stagger_delay_ms"`
	MaxConcurrent     int `yaml:"max_concurrent"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// StaggerDelay returns the configured delay, defaulting to 1s.
func (d DispatchConfig) StaggerDelay() time.Duration {
	if d.StaggerDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(d.StaggerDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request deadline, defaulting to 60s.
func (d DispatchConfig) RequestTimeout() time.Duration {
	if d.RequestTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(d.RequestTimeoutSec) * time.Second
}

// Concurrency returns the in-flight ceiling, defaulting to 3.
func (d DispatchConfig) Concurrency() int {
	if d.MaxConcurrent <= 0 {
		return 3
	}
	return d.MaxConcurrent
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = ".locflow"
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "openai"
	}
	if c.Provider.APIKey == "" {
		switch c.Provider.Type {
		case "openai":
			c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case "openrouter":
			c.Provider.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
}

// Validate checks the parts every command needs. Provider credentials are
// checked later, at client construction, so read-only commands work without
// a key.
func (c *Config) Validate() error {
	if c.ContentDir == "" {
		return fault.New(fault.Validation, "config: content_dir is required")
	}
	if c.SourceLocale == "" {
		return fault.New(fault.Validation, "config: source_locale is required")
	}
	if len(c.TargetLocales) == 0 {
		return fault.New(fault.Validation, "config: target_locales is required")
	}
	if c.Model == "" {
		return fault.New(fault.Validation, "config: model is required")
	}
	switch c.Provider.Type {
	case "openai", "openrouter":
	default:
		return fault.New(fault.Validation, "config: unknown provider type %q", c.Provider.Type)
	}
	return nil
}
