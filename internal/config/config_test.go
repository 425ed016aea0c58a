// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
	if cfg.Prompt.SummaryWindow != 4 {
		t.Errorf("default summary window = %d, want 4", cfg.Prompt.SummaryWindow)
	}
	if cfg.Prompt.HistoryWindow != 10 {
		t.Errorf("default history window = %d, want 10", cfg.Prompt.HistoryWindow)
	}
	if cfg.Upstream.RequestTimeoutSecs != 120 || cfg.Upstream.StreamTimeoutSecs != 300 {
		t.Errorf("default timeouts = %d/%d, want 120/300",
			cfg.Upstream.RequestTimeoutSecs, cfg.Upstream.StreamTimeoutSecs)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	content := `
version = "1"

[server]
port = 9000

[prompt]
summary_window = 2
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Prompt.SummaryWindow != 2 {
		t.Errorf("summary window = %d, want 2", cfg.Prompt.SummaryWindow)
	}
	// Unset fields keep defaults.
	if cfg.Upstream.BaseURL == "" {
		t.Error("unset base URL lost its default")
	}
}

func TestLoadFromJSONFallback(t *testing.T) {
	dir := t.TempDir()
	content := `{"server":{"port":9100}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
}

func TestLoadFromMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Error("missing config did not fall back to defaults")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEYS", "sk-or-a, sk-or-b ,")
	t.Setenv("ORCHID_PORT", "9200")
	t.Setenv("ORCHID_STREAM_TIMEOUT_SECS", "60")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "sk-or-a" || cfg.APIKeys[1] != "sk-or-b" {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Upstream.StreamTimeoutSecs != 60 {
		t.Errorf("stream timeout = %d, want 60", cfg.Upstream.StreamTimeoutSecs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad base url", func(c *Config) { c.Upstream.BaseURL = "ftp://nope" }},
		{"zero summary window", func(c *Config) { c.Prompt.SummaryWindow = 0 }},
		{"zero history window", func(c *Config) { c.Prompt.HistoryWindow = 0 }},
		{"zero stream timeout", func(c *Config) { c.Upstream.StreamTimeoutSecs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Server.Port = 9300
	if err := cfg.SaveTOML(dir); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}

	back, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if back.Server.Port != 9300 {
		t.Errorf("round-trip port = %d, want 9300", back.Server.Port)
	}
}
