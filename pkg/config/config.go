// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration for the postmortem generator.
//
// Configuration is loaded from an optional YAML file, then overridden
// by environment variables (.env files are loaded first without
// overriding the real environment). A run snapshots its configuration
// at start; changing configuration mid-run is not supported.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/postmortem/pkg/incident"
)

// Environment variable names.
const (
	EnvDialAPIKey       = "DIAL_API_KEY"
	EnvDialEndpoint     = "AZURE_OPENAI_ENDPOINT"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvModelName        = "MODEL_NAME"
	EnvTemperature      = "TEMPERATURE"
	EnvMaxTokens        = "MAX_TOKENS"
	EnvQualityThreshold = "QUALITY_THRESHOLD"
	EnvMaxRevisions     = "MAX_REVISIONS"
	EnvHighSevCutoff    = "HIGH_SEV_THRESHOLD"
)

// LLMConfig configures the language model provider.
type LLMConfig struct {
	// Type is the provider type: "openai", "anthropic" or "ollama".
	Type string `yaml:"type,omitempty"`

	// Model is the model name.
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (DIAL, Azure, proxies).
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation.
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens for generation.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for a single generation call. On timeout the
	// call fails; it is never silently retried.
	Timeout int `yaml:"timeout,omitempty"`
}

// QualityConfig configures the draft-review-revise loop.
type QualityConfig struct {
	// Threshold is the minimum aggregate score in [0,1] for
	// auto-acceptance.
	Threshold float64 `yaml:"threshold,omitempty"`

	// MaxRevisions is the number of revisions allowed after the first
	// draft; total attempts per loop run = MaxRevisions + 1.
	MaxRevisions int `yaml:"max_revisions,omitempty"`
}

// ApprovalConfig configures the human review gate.
type ApprovalConfig struct {
	// Enabled turns human review on. Default: true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Cutoff is the least critical severity that still requires
	// review, e.g. "SEV1".
	Cutoff string `yaml:"cutoff,omitempty"`
}

// StorageConfig configures checkpoint and incident-history persistence.
type StorageConfig struct {
	// Backend: "inmemory", "sqlite", "postgres" or "mysql".
	Backend string `yaml:"backend,omitempty"`

	// DSN is the database path (sqlite) or connection string.
	DSN string `yaml:"dsn,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on tracing. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter: "stdout" (default) or "otlp".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm,omitempty"`
	Quality  QualityConfig  `yaml:"quality,omitempty"`
	Approval ApprovalConfig `yaml:"approval,omitempty"`
	Storage  StorageConfig  `yaml:"storage,omitempty"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120
	}
	if c.Quality.Threshold == 0 {
		c.Quality.Threshold = 0.75
	}
	if c.Quality.MaxRevisions == 0 {
		c.Quality.MaxRevisions = 3
	}
	if c.Approval.Enabled == nil {
		enabled := true
		c.Approval.Enabled = &enabled
	}
	if c.Approval.Cutoff == "" {
		c.Approval.Cutoff = "SEV1"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "inmemory"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

// Validate checks the configuration. It is called once at run start,
// before any collaborator is invoked.
func (c *Config) Validate() error {
	if c.Quality.Threshold < 0 || c.Quality.Threshold > 1 {
		return fmt.Errorf("quality.threshold must be in [0,1], got %v", c.Quality.Threshold)
	}
	if c.Quality.MaxRevisions < 0 {
		return fmt.Errorf("quality.max_revisions must be >= 0, got %d", c.Quality.MaxRevisions)
	}
	if _, err := incident.ParseSeverity(c.Approval.Cutoff); err != nil {
		return fmt.Errorf("approval.cutoff: %w", err)
	}
	switch c.LLM.Type {
	case "", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.type must be openai, anthropic or ollama, got %q", c.LLM.Type)
	}
	switch c.Storage.Backend {
	case "", "inmemory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("storage.backend must be inmemory, sqlite, postgres or mysql, got %q", c.Storage.Backend)
	}
	return nil
}

// CutoffSeverity returns the parsed approval cutoff. Validate must
// have succeeded first.
func (c *Config) CutoffSeverity() incident.Severity {
	sev, _ := incident.ParseSeverity(c.Approval.Cutoff)
	return sev
}

// ApprovalEnabled reports whether human review is enabled.
func (c *Config) ApprovalEnabled() bool {
	return c.Approval.Enabled != nil && *c.Approval.Enabled
}

// Load reads configuration from an optional YAML file, applies
// environment overrides and validation. Defaults are applied before
// the file and environment are read, so an explicit zero there (e.g.
// max_revisions: 0 for a single-attempt loop) is kept as a real value
// instead of being mistaken for "unset".
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from environment variables and
// picks the LLM provider. DIAL takes priority, then OpenAI, then
// Anthropic, then local ollama.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvModelName); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(EnvTemperature); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = f
		}
	}
	if v := os.Getenv(EnvMaxTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv(EnvQualityThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.Threshold = f
		}
	}
	if v := os.Getenv(EnvMaxRevisions); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quality.MaxRevisions = n
		}
	}
	if v := os.Getenv(EnvHighSevCutoff); v != "" {
		c.Approval.Cutoff = v
	}

	if c.LLM.Type != "" && c.LLM.APIKey != "" {
		return // explicit provider config wins
	}
	switch {
	case os.Getenv(EnvDialAPIKey) != "":
		c.LLM.Type = "openai"
		c.LLM.APIKey = os.Getenv(EnvDialAPIKey)
		if ep := os.Getenv(EnvDialEndpoint); ep != "" {
			c.LLM.BaseURL = ep
		}
	case os.Getenv(EnvOpenAIAPIKey) != "":
		c.LLM.Type = "openai"
		c.LLM.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case os.Getenv(EnvAnthropicAPIKey) != "":
		c.LLM.Type = "anthropic"
		c.LLM.APIKey = os.Getenv(EnvAnthropicAPIKey)
	default:
		if c.LLM.Type == "" {
			c.LLM.Type = "ollama"
		}
	}
}
