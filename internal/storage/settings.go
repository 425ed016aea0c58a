// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/morganforge/orchid/internal/catalog"
	"github.com/morganforge/orchid/internal/prompt"
	"github.com/morganforge/orchid/internal/util"
)

// settingsFile is the settings filename under the data directory.
const settingsFile = "settings.json"

// Settings is the runtime-editable configuration surface: prompt templates,
// token budget, and the model catalog. Distinct from internal/config, which
// holds operator-level settings that require a restart.
type Settings struct {
	SFWSystemPrompt  string                    `json:"sfw_system_prompt"`
	NSFWSystemPrompt string                    `json:"nsfw_system_prompt"`
	MaxTokens        int                       `json:"max_tokens"`
	Models           []catalog.ModelDescriptor `json:"models"`
}

// DefaultSettings returns the shipped settings.
func DefaultSettings() Settings {
	return Settings{
		SFWSystemPrompt:  prompt.DefaultSFWTemplate,
		NSFWSystemPrompt: prompt.DefaultNSFWTemplate,
		MaxTokens:        512,
		Models:           catalog.DefaultModels(),
	}
}

// merged fills any unset field with its default, so a partial settings file
// never wipes out templates or the model list.
func (s Settings) merged() Settings {
	def := DefaultSettings()
	if s.SFWSystemPrompt == "" {
		s.SFWSystemPrompt = def.SFWSystemPrompt
	}
	if s.NSFWSystemPrompt == "" {
		s.NSFWSystemPrompt = def.NSFWSystemPrompt
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = def.MaxTokens
	}
	if len(s.Models) == 0 {
		s.Models = def.Models
	}
	return s
}

// SettingsStore persists settings as one JSON file and serves a consistent
// in-memory snapshot to readers.
type SettingsStore struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// NewSettingsStore opens (or initializes) the settings file under dir.
func NewSettingsStore(dir string) (*SettingsStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	st := &SettingsStore{path: filepath.Join(dir, settingsFile)}
	if err := st.Reload(); err != nil {
		return nil, err
	}
	return st, nil
}

// Path returns the settings file location (watched for hot reload).
func (s *SettingsStore) Path() string {
	return s.path
}

// Get returns the active settings snapshot.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates, persists, and activates new settings.
func (s *SettingsStore) Update(next Settings) error {
	next = next.merged()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.path, data, 0644); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Reload re-reads the settings file, falling back to defaults when it does
// not exist. Called at startup and by the file watcher on external edits.
func (s *SettingsStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.current = DefaultSettings()
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	s.mu.Lock()
	s.current = loaded.merged()
	s.mu.Unlock()
	return nil
}
