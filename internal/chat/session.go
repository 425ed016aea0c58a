// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat maintains a client-side conversation against the streaming
// API: it holds the transcript, sends turns, and consumes NDJSON deltas.
//
// The transcript is append-only. A failed send never removes the user's
// message; it appends exactly one fallback assistant message so the
// conversation stays well-formed for the next turn.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/orchid/internal/config"
	"github.com/morganforge/orchid/internal/storage"
	"github.com/morganforge/orchid/internal/stream"
)

// FallbackMessage is the assistant reply recorded when a send fails before
// any content arrived.
const FallbackMessage = "I'm having trouble connecting right now. Please try again."

// maxLineSize bounds one NDJSON line. Deltas carry cumulative content, so
// long completions produce long lines.
const maxLineSize = 4 * 1024 * 1024

// =============================================================================
// SESSION TYPES
// =============================================================================

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Character describes who the model plays for this session.
type Character struct {
	Name        string
	Personality string
	Scenario    string
	Example     string
	NSFW        bool
}

// DeltaFunc receives each cumulative delta as it streams in, for live UI
// updates. May be nil.
type DeltaFunc func(d stream.Delta)

// streamRequest mirrors the server's streaming request body.
type streamRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`

	CharacterName        string `json:"character_name,omitempty"`
	CharacterPersonality string `json:"character_personality,omitempty"`
	CharacterScenario    string `json:"character_scenario,omitempty"`
	CharacterExample     string `json:"character_example,omitempty"`
	NSFW                 bool   `json:"nsfw,omitempty"`

	UserPersona string `json:"user_persona,omitempty"`
}

// wireMessage is the role/content pair sent to the server.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one conversation with one character.
type Session struct {
	baseURL    string
	httpClient *http.Client

	model     string
	character Character
	persona   string
	maxTokens int

	// historyWindow bounds how many trailing messages go out per turn.
	// The transcript itself is unbounded; only the request is windowed,
	// which also keeps long conversations under the server's message cap.
	historyWindow int

	mu       sync.Mutex
	messages []Message
}

// NewSession creates a session against the API at baseURL.
func NewSession(baseURL, model string) *Session {
	return &Session{
		baseURL:       baseURL,
		httpClient:    &http.Client{},
		model:         model,
		historyWindow: config.Default().Prompt.HistoryWindow,
	}
}

// WithCharacter sets the character definition.
func (s *Session) WithCharacter(c Character) *Session {
	s.character = c
	return s
}

// WithPersona sets the user persona text.
func (s *Session) WithPersona(persona string) *Session {
	s.persona = persona
	return s
}

// WithMaxTokens sets the per-turn completion budget (0 = server default).
func (s *Session) WithMaxTokens(n int) *Session {
	s.maxTokens = n
	return s
}

// WithHistoryWindow sets how many trailing messages are sent per turn.
// Non-positive values are ignored.
func (s *Session) WithHistoryWindow(n int) *Session {
	if n > 0 {
		s.historyWindow = n
	}
	return s
}

// WithHTTPClient sets a custom HTTP client.
func (s *Session) WithHTTPClient(client *http.Client) *Session {
	s.httpClient = client
	return s
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// append adds one message to the transcript.
func (s *Session) append(role, content, thinking string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Thinking:  thinking,
		Timestamp: time.Now(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// Send submits one user turn and streams the reply. The user message is
// appended before the request goes out and stays in the transcript whatever
// happens. onDelta (if non-nil) fires for each delta line.
//
// On failure the returned error describes the cause; the transcript gains
// exactly one assistant message - the partial content if any arrived, the
// fallback text otherwise.
func (s *Session) Send(ctx context.Context, text string, onDelta DeltaFunc) (Message, error) {
	s.append("user", text, "")

	last, err := s.streamTurn(ctx, onDelta)
	if err != nil {
		log.Printf("SEND_FAILED | error=%v", err)
		if last.Content != "" {
			// Keep what the model managed to say.
			return s.append("assistant", last.Content, last.Thinking), err
		}
		return s.append("assistant", FallbackMessage, ""), err
	}

	return s.append("assistant", last.Content, last.Thinking), nil
}

// streamTurn performs the HTTP call and consumes the NDJSON stream,
// returning the final cumulative delta.
func (s *Session) streamTurn(ctx context.Context, onDelta DeltaFunc) (stream.Delta, error) {
	var last stream.Delta

	req := streamRequest{
		Model:                s.model,
		Messages:             s.wireMessages(),
		MaxTokens:            s.maxTokens,
		CharacterName:        s.character.Name,
		CharacterPersonality: s.character.Personality,
		CharacterScenario:    s.character.Scenario,
		CharacterExample:     s.character.Example,
		NSFW:                 s.character.NSFW,
		UserPersona:          s.persona,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return last, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return last, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return last, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return last, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		// A terminal error line replaces a delta when the stream breaks
		// mid-flight.
		var errLine struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(line, &errLine) == nil && errLine.Error != "" {
			return last, fmt.Errorf("stream failed: %s", errLine.Error)
		}

		var d stream.Delta
		if err := json.Unmarshal(line, &d); err != nil {
			return last, fmt.Errorf("malformed delta line: %w", err)
		}
		last = d
		if onDelta != nil {
			onDelta(d)
		}
	}
	if err := scanner.Err(); err != nil {
		return last, fmt.Errorf("stream read failed: %w", err)
	}

	return last, nil
}

// wireMessages snapshots the tail of the transcript in request form. Only
// the last historyWindow messages are sent; older turns live on in the
// transcript but never leave the client again.
func (s *Session) wireMessages() []wireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages
	if s.historyWindow > 0 && len(msgs) > s.historyWindow {
		msgs = msgs[len(msgs)-s.historyWindow:]
	}

	out := make([]wireMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = wireMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

// =============================================================================
// PERSISTENCE BRIDGE
// =============================================================================

// ToStored converts the transcript for the conversation store.
func (s *Session) ToStored() *storage.StoredConversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &storage.StoredConversation{
		Model:    s.model,
		Messages: make([]storage.StoredMessage, len(s.messages)),
	}
	for i, msg := range s.messages {
		stored.Messages[i] = storage.StoredMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Thinking:  msg.Thinking,
			Timestamp: msg.Timestamp,
		}
	}
	return stored
}

// Restore replaces the transcript with a stored conversation's messages.
func (s *Session) Restore(conv *storage.StoredConversation) {
	msgs := make([]Message, len(conv.Messages))
	for i, m := range conv.Messages {
		msgs[i] = Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Thinking:  m.Thinking,
			Timestamp: m.Timestamp,
		}
	}

	s.mu.Lock()
	s.messages = msgs
	if conv.Model != "" {
		s.model = conv.Model
	}
	s.mu.Unlock()
}
