// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides JSON-file persistence for conversations and
// settings. One file per record, written atomically; the process never
// holds the only copy of user data in memory.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/morganforge/orchid/internal/util"
)

// ErrConversationNotFound indicates the requested conversation does not
// exist.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// STORED CONVERSATION TYPES
// =============================================================================

// StoredMessage is one persisted conversation turn. Thinking is kept
// separately from the visible content so the transcript can replay the
// split without re-parsing delimiters.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredConversation is a persisted conversation. The full message list is
// unbounded here; the outbound window is applied at request time, not at
// rest.
type StoredConversation struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id,omitempty"`
	Title       string    `json:"title"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Messages []StoredMessage `json:"messages"`
}

// ConversationMeta is the listing view of a conversation.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore persists conversations as one JSON file each.
type ConversationStore struct {
	// BaseDir is the storage directory.
	BaseDir string

	// MaxConversations bounds retained conversations (0 = unlimited).
	// Oldest conversations are evicted past the limit.
	MaxConversations int
}

// NewConversationStore creates a store rooted at dir/conversations.
func NewConversationStore(dir string, maxConversations int) (*ConversationStore, error) {
	baseDir := filepath.Join(dir, "conversations")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: maxConversations,
	}, nil
}

// Save persists a conversation and returns its ID, generating one when
// unset. The title defaults to a digest of the first user message.
func (s *ConversationStore) Save(conv *StoredConversation) (string, error) {
	if conv.ID == "" {
		conv.ID = generateConversationID()
	}
	if conv.Title == "" {
		conv.Title = s.generateTitle(conv)
	}

	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(conv.ID), data, 0644); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}

	return conv.ID, nil
}

// generateTitle derives a title from the first user message.
func (s *ConversationStore) generateTitle(conv *StoredConversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == "user" && msg.Content != "" {
			title := strings.ReplaceAll(msg.Content, "\n", " ")
			title = strings.ReplaceAll(title, "\r", "")
			return util.TruncateInside(title, 50)
		}
	}
	return "New conversation"
}

// enforceLimit removes the oldest conversations past MaxConversations.
func (s *ConversationStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	excess := len(metas) - s.MaxConversations
	for i := 0; i < excess; i++ {
		s.Delete(metas[i].ID)
	}
}

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*StoredConversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv StoredConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns metadata for all conversations, most recent first.
// Corrupted files are skipped rather than failing the whole listing.
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	var metas []ConversationMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		conv, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		preview := ""
		for _, msg := range conv.Messages {
			if msg.Role == "user" {
				preview = util.TruncateInside(msg.Content, 80)
				break
			}
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Title:        conv.Title,
			Model:        conv.Model,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
			Preview:      preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})

	return metas, nil
}

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	err := os.Remove(s.filePath(id))
	if os.IsNotExist(err) {
		return ErrConversationNotFound
	}
	return err
}

// Clear removes all stored conversations.
func (s *ConversationStore) Clear() error {
	metas, err := s.List()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if err := s.Delete(meta.ID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			return err
		}
	}
	return nil
}

// filePath returns the storage path for a conversation ID.
func (s *ConversationStore) filePath(id string) string {
	// Defense against path traversal in IDs sourced from requests.
	return filepath.Join(s.BaseDir, filepath.Base(id)+".json")
}

// generateConversationID returns a random conversation identifier.
func generateConversationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "conv_" + hex.EncodeToString(b)
}
