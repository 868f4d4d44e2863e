// Package config loads chartqa configuration from .chartqa/config.yaml,
// layering the file over built-in defaults and environment variables over
// the file. The zero-config path works: every section has usable defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chartqa configuration.
type Config struct {
	// LLM collaborator that writes rendering scripts
	LLM LLMConfig `yaml:"llm"`

	// Render backend subprocess
	Render RenderConfig `yaml:"render"`

	// Layout validation thresholds
	Layout LayoutConfig `yaml:"layout"`

	// Regeneration retry budget
	Retry RetryConfig `yaml:"retry"`

	// Failure metrics store
	Metrics MetricsConfig `yaml:"metrics"`

	// Issue-level fan-out
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Categorized debug logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the instruction-writing model.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, claude-cli, offline, auto
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// RenderConfig configures the isolated render subprocess.
type RenderConfig struct {
	RunnerPath   string `yaml:"runner_path"`
	OutputDir    string `yaml:"output_dir"`
	Timeout      string `yaml:"timeout"`
	KeepWorkdirs bool   `yaml:"keep_workdirs"`
}

// LayoutConfig configures the validation thresholds, in normalized
// figure units except for the overlap ratio.
type LayoutConfig struct {
	LabelDataMinOffset   float64 `yaml:"label_data_min_offset"`
	LabelMinSeparation   float64 `yaml:"label_min_separation"`
	CriticalOverlapRatio float64 `yaml:"critical_overlap_ratio"`
	EdgeSafetyMargin     float64 `yaml:"edge_safety_margin"`
}

// RetryConfig bounds the regeneration loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// MetricsConfig locates the failure metrics store.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig configures issue-level concurrency.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig mirrors the logging section also read by the logging
// package. Categories maps category name to enabled.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "auto",
			Model:    "",
			Timeout:  "120s",
		},
		Render: RenderConfig{
			RunnerPath: "renderbox",
			OutputDir:  "artifacts",
			Timeout:    "30s",
		},
		Layout: LayoutConfig{
			LabelDataMinOffset:   0.008,
			LabelMinSeparation:   0.02,
			CriticalOverlapRatio: 0.25,
			EdgeSafetyMargin:     0.005,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
		Metrics: MetricsConfig{
			Path: filepath.Join(".chartqa", "metrics.json"),
		},
		Pipeline: PipelineConfig{
			Concurrency: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the config file location under a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".chartqa", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file is not an
// error: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. CHARTQA_*
// variables beat the file; provider API keys fill in when the file has none.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" && c.LLM.APIKey == "" && c.LLM.Provider == "auto" {
		c.LLM.Provider = "claude-cli"
	}
	if v := os.Getenv("CHARTQA_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("CHARTQA_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("CHARTQA_RUNNER"); v != "" {
		c.Render.RunnerPath = v
	}
	if v := os.Getenv("CHARTQA_OUTPUT_DIR"); v != "" {
		c.Render.OutputDir = v
	}
	if v := os.Getenv("CHARTQA_METRICS_PATH"); v != "" {
		c.Metrics.Path = v
	}
	if v := os.Getenv("CHARTQA_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("CHARTQA_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Concurrency = n
		}
	}
	if v := os.Getenv("CHARTQA_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Layout.LabelDataMinOffset < 0 || c.Layout.LabelMinSeparation < 0 || c.Layout.EdgeSafetyMargin < 0 {
		return fmt.Errorf("layout thresholds must not be negative")
	}
	if c.Layout.CriticalOverlapRatio <= 0 || c.Layout.CriticalOverlapRatio > 1 {
		return fmt.Errorf("layout.critical_overlap_ratio must be in (0,1], got %v", c.Layout.CriticalOverlapRatio)
	}
	return nil
}

// GetTimeout returns the LLM timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetTimeout returns the render subprocess timeout as a duration.
func (c RenderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
