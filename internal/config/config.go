// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for orchid.
//
// Supports TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.orchid/config.toml
//   - ~/.orchid/config.json
//   - Built-in defaults
//
// Policy constants (context windows, timeouts, token budgets) live here as
// config fields rather than code literals, so deployments can tune them
// without a rebuild.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/morganforge/orchid/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete orchid configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server   ServerConfig   `toml:"server" json:"server"`
	Upstream UpstreamConfig `toml:"upstream" json:"upstream"`
	Prompt   PromptConfig   `toml:"prompt" json:"prompt"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`

	// APIKeys is the credential pool. Populated from the
	// OPENROUTER_API_KEYS environment variable (comma-separated); a value
	// in the config file is a fallback for development setups.
	APIKeys []string `toml:"api_keys" json:"api_keys"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	// Port the server listens on (loopback only).
	Port int `toml:"port" json:"port"`
	// RateLimitPerMin is the per-IP request budget per minute.
	RateLimitPerMin int `toml:"rate_limit_per_min" json:"rate_limit_per_min"`
	// AllowedOrigins for CORS. Empty allows the default localhost set.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// UpstreamConfig contains the OpenRouter connection settings.
type UpstreamConfig struct {
	// BaseURL of the chat-completions API.
	BaseURL string `toml:"base_url" json:"base_url"`
	// SiteURL and SiteName identify this application to the provider
	// (HTTP-Referer / X-Title headers).
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
	// RequestTimeoutSecs bounds non-streaming calls.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// StreamTimeoutSecs bounds a full streaming response.
	StreamTimeoutSecs int `toml:"stream_timeout_secs" json:"stream_timeout_secs"`
}

// PromptConfig contains the prompt-assembly policy constants.
type PromptConfig struct {
	// SummaryWindow is how many trailing messages the context digest
	// covers.
	SummaryWindow int `toml:"summary_window" json:"summary_window"`
	// SummaryMaxChars is the per-message rune budget in the digest.
	SummaryMaxChars int `toml:"summary_max_chars" json:"summary_max_chars"`
	// HistoryWindow is how many trailing messages are sent upstream.
	HistoryWindow int `toml:"history_window" json:"history_window"`
	// MaxTokens is the default completion budget per request.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
}

// StorageConfig contains the persistence settings.
type StorageConfig struct {
	// DataDir is the root directory for JSON stores. Empty selects
	// ~/.orchid.
	DataDir string `toml:"data_dir" json:"data_dir"`
	// MaxConversations bounds retained conversations (0 = unlimited).
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:            8791,
			RateLimitPerMin: 120,
		},
		Upstream: UpstreamConfig{
			BaseURL:            "https://openrouter.ai/api/v1",
			SiteURL:            "https://orchid.morganforge.dev",
			SiteName:           "Orchid",
			RequestTimeoutSecs: 120,
			StreamTimeoutSecs:  300,
		},
		Prompt: PromptConfig{
			SummaryWindow:   4,
			SummaryMaxChars: 150,
			HistoryWindow:   10,
			MaxTokens:       512,
		},
		Storage: StorageConfig{
			MaxConversations: 100,
		},
	}
}

// ConfigDir returns the orchid configuration directory (~/.orchid).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".orchid"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration: TOML first, then JSON, then built-in
// defaults. Environment overrides are applied last and always win.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads config.toml or config.json from the given directory,
// falling back to defaults when neither exists.
func LoadFrom(dir string) (*Config, error) {
	tomlPath := filepath.Join(dir, "config.toml")
	if data, err := os.ReadFile(tomlPath); err == nil {
		cfg := Default()
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tomlPath, err)
		}
		return cfg, nil
	}

	jsonPath := filepath.Join(dir, "config.json")
	if data, err := os.ReadFile(jsonPath); err == nil {
		cfg := Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		return cfg, nil
	}

	return Default(), nil
}

// ApplyEnvOverrides applies environment variables on top of file values.
//
// OPENROUTER_API_KEYS is the canonical credential source; ORCHID_* variables
// override individual settings.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OPENROUTER_API_KEYS"); v != "" {
		var keys []string
		for _, part := range strings.Split(v, ",") {
			if k := strings.TrimSpace(part); k != "" {
				keys = append(keys, k)
			}
		}
		c.APIKeys = keys
	}

	if v := os.Getenv("ORCHID_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ORCHID_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("ORCHID_SITE_URL"); v != "" {
		c.Upstream.SiteURL = v
	}
	if v := os.Getenv("ORCHID_SITE_NAME"); v != "" {
		c.Upstream.SiteName = v
	}
	if v := os.Getenv("ORCHID_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("ORCHID_STREAM_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Upstream.StreamTimeoutSecs = secs
		}
	}
}

// SetDefaults fills in zero values that Load cannot distinguish from
// missing fields.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.RateLimitPerMin == 0 {
		c.Server.RateLimitPerMin = def.Server.RateLimitPerMin
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = def.Upstream.BaseURL
	}
	if c.Upstream.RequestTimeoutSecs == 0 {
		c.Upstream.RequestTimeoutSecs = def.Upstream.RequestTimeoutSecs
	}
	if c.Upstream.StreamTimeoutSecs == 0 {
		c.Upstream.StreamTimeoutSecs = def.Upstream.StreamTimeoutSecs
	}
	if c.Prompt.SummaryWindow == 0 {
		c.Prompt.SummaryWindow = def.Prompt.SummaryWindow
	}
	if c.Prompt.SummaryMaxChars == 0 {
		c.Prompt.SummaryMaxChars = def.Prompt.SummaryMaxChars
	}
	if c.Prompt.HistoryWindow == 0 {
		c.Prompt.HistoryWindow = def.Prompt.HistoryWindow
	}
	if c.Prompt.MaxTokens == 0 {
		c.Prompt.MaxTokens = def.Prompt.MaxTokens
	}
	if c.Storage.DataDir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.DataDir = dir
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field ranges. Returns the first violation found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.RateLimitPerMin < 1 {
		return &ValidationError{Field: "server.rate_limit_per_min", Message: "must be positive"}
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return &ValidationError{Field: "upstream.base_url", Message: "must be an http(s) URL"}
	}
	if c.Upstream.RequestTimeoutSecs < 1 {
		return &ValidationError{Field: "upstream.request_timeout_secs", Message: "must be positive"}
	}
	if c.Upstream.StreamTimeoutSecs < 1 {
		return &ValidationError{Field: "upstream.stream_timeout_secs", Message: "must be positive"}
	}
	if c.Prompt.SummaryWindow < 1 {
		return &ValidationError{Field: "prompt.summary_window", Message: "must be positive"}
	}
	if c.Prompt.SummaryMaxChars < 1 {
		return &ValidationError{Field: "prompt.summary_max_chars", Message: "must be positive"}
	}
	if c.Prompt.HistoryWindow < 1 {
		return &ValidationError{Field: "prompt.history_window", Message: "must be positive"}
	}
	if c.Prompt.MaxTokens < 1 {
		return &ValidationError{Field: "prompt.max_tokens", Message: "must be positive"}
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// SaveTOML writes the configuration to config.toml in the given directory.
// SECURITY: 0600 - the file may hold development API keys.
func (c *Config) SaveTOML(dir string) error {
	var b strings.Builder
	b.WriteString("# orchid configuration\n")
	b.WriteString("# Credentials are normally supplied via OPENROUTER_API_KEYS.\n\n")

	enc := toml.NewEncoder(&b)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return util.AtomicWriteFile(filepath.Join(dir, "config.toml"), []byte(b.String()), 0600)
}
