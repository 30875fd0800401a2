// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the study service configuration.
//
// Values come from an optional YAML file, then environment variables, then
// defaults for anything still unset. The wave can be reloaded at runtime
// with WaveWatcher and the log secret lives in a memguard enclave.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// Config is the full service configuration.
type Config struct {
	Port    int    `yaml:"port"`
	LogsDir string `yaml:"logs_dir"`

	// Wave tags every log entry and names the shard files.
	Wave   string `yaml:"wave"`
	Commit string `yaml:"commit"`

	// LogSecret guards log polling and export. Empty disables both.
	LogSecret string `yaml:"log_secret"`

	// CompletionCode is shown to Prolific participants on the final page.
	CompletionCode string `yaml:"completion_code"`

	OpenAI     OpenAIConfig     `yaml:"openai"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Mirror     MirrorConfig     `yaml:"mirror"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed when resolving the client IP. Empty trusts none.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// OTelEndpoint is an OTLP gRPC address, "stdout", or empty for no
	// tracing.
	OTelEndpoint string `yaml:"otel_endpoint"`

	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// OpenAIConfig selects the AI completion service.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`
}

// TimeoutConfig bounds calls to the AI service.
type TimeoutConfig struct {
	Suggestion time.Duration `yaml:"suggestion"`
	Reflection time.Duration `yaml:"reflection"`
	Chat       time.Duration `yaml:"chat"`
}

// CacheConfig controls the reflection cache.
type CacheConfig struct {
	Disabled bool          `yaml:"disabled"`
	Path     string        `yaml:"path"`
	TTL      time.Duration `yaml:"ttl"`
}

// RateLimitConfig is the per-user token bucket for AI endpoints.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DispatcherConfig sizes the asynchronous event writer.
type DispatcherConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// MirrorConfig enables periodic upload of log shards to a GCS bucket.
type MirrorConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Schedule        string `yaml:"schedule"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Enabled reports whether a bucket is configured.
func (m MirrorConfig) Enabled() bool { return m.Bucket != "" }

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultPort           = 5000
	DefaultLogsDir        = "./logs"
	DefaultWave           = "wave-2"
	DefaultCompletionCode = "C728GXTB"
	DefaultModel          = "gpt-4o"
	DefaultCachePath      = "./cache/reflections"
	DefaultMirrorSchedule = "@every 5m"
)

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return applyConfigDefaults(Config{})
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = DefaultLogsDir
	}
	if cfg.Wave == "" {
		cfg.Wave = DefaultWave
	}
	if cfg.Commit == "" {
		cfg.Commit = "unknown"
	}
	if cfg.CompletionCode == "" {
		cfg.CompletionCode = DefaultCompletionCode
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = DefaultModel
	}

	if cfg.Timeouts.Suggestion == 0 {
		cfg.Timeouts.Suggestion = 30 * time.Second
	}
	if cfg.Timeouts.Reflection == 0 {
		cfg.Timeouts.Reflection = 30 * time.Second
	}
	if cfg.Timeouts.Chat == 0 {
		cfg.Timeouts.Chat = 2 * time.Minute
	}

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 7 * 24 * time.Hour
	}

	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.Dispatcher.QueueSize == 0 {
		cfg.Dispatcher.QueueSize = 256
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 2
	}

	if cfg.Mirror.Schedule == "" {
		cfg.Mirror.Schedule = DefaultMirrorSchedule
	}
	if cfg.Mirror.Prefix == "" {
		cfg.Mirror.Prefix = "logs/"
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
	return cfg
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the configuration.
//
// # Description
//
// When path is non-empty the YAML file is read first; a missing file is an
// error. Environment variables then override individual fields and
// defaults fill the rest.
//
// # Inputs
//
//   - path: YAML file, or "" for environment and defaults only.
//
// # Outputs
//
//   - Config: the resolved configuration.
//   - error: unreadable or malformed file, or a malformed STUDY_PORT.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		fileCfg, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// envOverrides maps environment variables onto string fields.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"LOGS_DIR":                       &cfg.LogsDir,
		"LOG_SECRET":                     &cfg.LogSecret,
		"WAVE":                           &cfg.Wave,
		"COMMIT_SHA":                     &cfg.Commit,
		"COMPLETION_CODE":                &cfg.CompletionCode,
		"OPENAI_API_KEY":                 &cfg.OpenAI.APIKey,
		"OPENAI_MODEL":                   &cfg.OpenAI.Model,
		"OPENAI_BASE_URL":                &cfg.OpenAI.BaseURL,
		"OTEL_EXPORTER_OTLP_ENDPOINT":    &cfg.OTelEndpoint,
		"GCS_BUCKET":                     &cfg.Mirror.Bucket,
		"GOOGLE_APPLICATION_CREDENTIALS": &cfg.Mirror.CredentialsFile,
		"STUDY_LOG_FORMAT":               &cfg.LogFormat,
	}
}

func applyEnv(cfg *Config) error {
	for key, field := range envOverrides(cfg) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
	if v := os.Getenv("STUDY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STUDY_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var problems []error
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, errors.New("rate_limit values must not be negative"))
	}
	if c.Dispatcher.QueueSize < 0 || c.Dispatcher.Workers < 0 {
		problems = append(problems, errors.New("dispatcher values must not be negative"))
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			problems = append(problems, fmt.Errorf("trusted_proxies: %q is not an IP or CIDR", proxy))
		}
	}
	return errors.Join(problems...)
}
