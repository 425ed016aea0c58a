// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"fmt"
)

// Content part types accepted by multimodal models.
const (
	PartTypeText  = "text"
	PartTypeImage = "image_url"
)

// ImageURL references an image by URL (or data URI) in a multimodal turn.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a structured message content array.
// Exactly one of Text/ImageURL is meaningful, selected by Type.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MessageContent is the polymorphic content of a chat message: either plain
// text or a list of parts (text and image references) for multimodal turns.
// Only certain models accept the parts variant.
//
// The zero value is empty text. Parts takes precedence when non-nil.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds a plain-text content value.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// PartsContent builds a structured multimodal content value.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsParts reports whether the structured variant is active.
func (m MessageContent) IsParts() bool {
	return m.Parts != nil
}

// PlainText flattens the content to text: the text variant verbatim, or the
// concatenated text parts of the structured variant (image parts skipped).
func (m MessageContent) PlainText() string {
	if !m.IsParts() {
		return m.Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// MarshalJSON encodes the active variant: a JSON string for text, a JSON
// array for parts. The wire shape matches what the upstream provider
// accepts for both variants.
func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.IsParts() {
		return json.Marshal(m.Parts)
	}
	return json.Marshal(m.Text)
}

// UnmarshalJSON decodes either variant, selected by the leading JSON token.
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty message content")
	}
	switch data[0] {
	case '"':
		m.Parts = nil
		return json.Unmarshal(data, &m.Text)
	case '[':
		m.Text = ""
		return json.Unmarshal(data, &m.Parts)
	case 'n': // null
		*m = MessageContent{}
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array, got %q", data[0])
	}
}

// ChatMessage is a single turn in a chat conversation.
type ChatMessage struct {
	Role    string         `json:"role"` // "system", "user", or "assistant"
	Content MessageContent `json:"content"`
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: TextContent(content)}
}

// NewAssistantMessage creates a plain-text assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: TextContent(content)}
}

// NewSystemMessage creates a plain-text system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: TextContent(content)}
}
