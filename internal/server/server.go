// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat pipeline over HTTP.
//
// Endpoints:
//   - POST   /v1/chat/stream        - Streaming chat (NDJSON deltas)
//   - GET    /v1/models             - List available models
//   - GET    /v1/settings           - Current runtime settings
//   - PUT    /v1/settings           - Update runtime settings
//   - GET    /v1/conversations      - List stored conversations
//   - POST   /v1/conversations      - Save a conversation
//   - GET    /v1/conversations/{id} - Load one conversation
//   - DELETE /v1/conversations/{id} - Delete one conversation
//   - GET    /health                - Health check
//   - GET    /stats                 - Usage statistics
//
// The streaming endpoint composes the system prompt server-side (unless the
// request carries an explicit override), windows the outbound history,
// digests older turns into a context summary, and relays the upstream
// stream as newline-delimited JSON deltas.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/morganforge/orchid/internal/catalog"
	"github.com/morganforge/orchid/internal/cloud"
	"github.com/morganforge/orchid/internal/config"
	"github.com/morganforge/orchid/internal/prompt"
	"github.com/morganforge/orchid/internal/storage"
	"github.com/morganforge/orchid/internal/stream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 200

	// MaxContentLength is the maximum length of one message's text content.
	MaxContentLength = 100000

	// MaxTokensLimit is the maximum value for max_tokens parameter.
	MaxTokensLimit = 128000

	// Version is the server version.
	Version = "0.1.0"
)

// validRoles defines the set of acceptable message roles.
// SECURITY: Roles are whitelisted to prevent injection of provider-specific
// roles through the public API.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage counters. All fields are atomics so the
// streaming hot path never takes a lock.
type ServerStats struct {
	TotalRequests atomic.Int64
	Streams       atomic.Int64
	StreamErrors  atomic.Int64
	Deltas        atomic.Int64

	startTime time.Time
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{startTime: time.Now()}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the chat pipeline.
type Server struct {
	cfg    *config.Config
	router *http.ServeMux
	server *http.Server

	cloud         *cloud.Client
	settings      *storage.SettingsStore
	conversations *storage.ConversationStore
	stats         *ServerStats
}

// NewServer wires the server against its collaborators.
func NewServer(cfg *config.Config, cloudClient *cloud.Client, settings *storage.SettingsStore, conversations *storage.ConversationStore) *Server {
	s := &Server{
		cfg:           cfg,
		router:        http.NewServeMux(),
		cloud:         cloudClient,
		settings:      settings,
		conversations: conversations,
		stats:         NewServerStats(),
	}

	s.setupRoutes()
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Server.Port
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	s.router.HandleFunc("GET /v1/models", s.handleModels)

	s.router.HandleFunc("GET /v1/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /v1/settings", s.handlePutSettings)

	s.router.HandleFunc("GET /v1/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /v1/conversations", s.handleSaveConversation)
	s.router.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("DELETE /v1/conversations/{id}", s.handleDeleteConversation)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// ============================================================================
// STREAMING CHAT HANDLER
// ============================================================================

// StreamRequest is the body of POST /v1/chat/stream.
//
// When SystemPrompt is set it is used verbatim. Otherwise the prompt is
// composed from the character fields, the user persona, and a digest of
// history that fell outside the outbound window.
type StreamRequest struct {
	Model     string              `json:"model"`
	Messages  []cloud.ChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`

	SystemPrompt string `json:"system_prompt,omitempty"`

	CharacterName        string `json:"character_name,omitempty"`
	CharacterPersonality string `json:"character_personality,omitempty"`
	CharacterScenario    string `json:"character_scenario,omitempty"`
	CharacterExample     string `json:"character_example,omitempty"`
	NSFW                 bool   `json:"nsfw,omitempty"`

	UserPersona string `json:"user_persona,omitempty"`

	// ContextSummary overrides the server-computed digest of older turns.
	ContextSummary string `json:"context_summary,omitempty"`
}

// validate checks request shape before any upstream work happens.
func (req *StreamRequest) validate() error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("request must contain at least one message")
	}
	if len(req.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
		if len(msg.Content.PlainText()) > MaxContentLength {
			return fmt.Errorf("message %d exceeds maximum length of %d", i, MaxContentLength)
		}
	}
	if req.MaxTokens < 0 || req.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 0 and %d", MaxTokensLimit)
	}
	return nil
}

// handleChatStream handles POST /v1/chat/stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)

	// SECURITY: Limit request body size to prevent DoS attacks
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		// Log full details internally, return generic message to client
		log.Printf("REQUEST_INVALID | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := req.validate(); err != nil {
		log.Printf("REQUEST_REJECTED | error=%v", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings := s.settings.Get()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = settings.MaxTokens
	}

	model := req.Model
	if model == "" && len(settings.Models) > 0 {
		model = settings.Models[0].ID
	}
	if _, ok := catalog.Find(settings.Models, model); !ok {
		log.Printf("REQUEST_REJECTED | reason=unknown_model model=%s", model)
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", model))
		return
	}

	systemPrompt, outbound := s.assemblePrompt(&req, settings)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// NDJSON framing: each line is one self-contained delta.
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	upstream := cloud.ChatRequest{
		Model:     model,
		Messages:  append([]cloud.ChatMessage{cloud.NewSystemMessage(systemPrompt)}, outbound...),
		MaxTokens: maxTokens,
	}

	s.stats.Streams.Add(1)
	startTime := time.Now()
	splitter := stream.NewSplitter()
	wroteAny := false

	err := s.cloud.ChatStream(r.Context(), upstream, func(fragment string) {
		splitter.Push(fragment)
		if werr := splitter.Delta().WriteTo(w); werr != nil {
			// Client went away; the context cancellation will stop the
			// upstream read shortly.
			return
		}
		flusher.Flush()
		wroteAny = true
		s.stats.Deltas.Add(1)
	})

	if err != nil {
		s.stats.StreamErrors.Add(1)
		log.Printf("STREAM_FAILED | model=%s error=%v", model, err)

		if !wroteAny {
			s.writeStreamError(w, err)
			return
		}
		// Headers are gone; surface the failure as a final structured line.
		data, _ := json.Marshal(map[string]string{"error": publicStreamError(err)})
		w.Write(append(data, '\n'))
		flusher.Flush()
		return
	}

	latencyMs := time.Since(startTime).Milliseconds()
	log.Printf("STREAM_COMPLETE | model=%s content_len=%d latency=%dms", model, len(splitter.Full()), latencyMs)
}

// assemblePrompt selects the system prompt and the windowed outbound
// history for one request.
//
// The outbound window keeps the last HistoryWindow messages; everything
// older is digested into the RECENT CONTEXT section of the composed prompt
// so long conversations stay within the upstream context limit without
// losing the thread.
func (s *Server) assemblePrompt(req *StreamRequest, settings storage.Settings) (string, []cloud.ChatMessage) {
	window := s.cfg.Prompt.HistoryWindow
	older, live := splitWindow(req.Messages, window)

	if req.SystemPrompt != "" {
		return req.SystemPrompt, live
	}

	summary := req.ContextSummary
	if summary == "" {
		summary = prompt.Summarize(toSummaryMessages(older), prompt.SummaryOptions{
			Window:   s.cfg.Prompt.SummaryWindow,
			MaxChars: s.cfg.Prompt.SummaryMaxChars,
		})
	}

	composed := prompt.ComposeSystemPrompt(prompt.PromptContext{
		BaseTemplate:         prompt.SelectTemplate(req.NSFW, settings.SFWSystemPrompt, settings.NSFWSystemPrompt),
		CharacterName:        req.CharacterName,
		CharacterPersonality: req.CharacterPersonality,
		CharacterScenario:    req.CharacterScenario,
		CharacterExample:     req.CharacterExample,
		PersonaText:          req.UserPersona,
		ContextSummary:       summary,
	})
	return composed, live
}

// splitWindow divides messages into those older than the outbound window
// and the live tail that is sent upstream.
func splitWindow(messages []cloud.ChatMessage, window int) (older, live []cloud.ChatMessage) {
	if window <= 0 || len(messages) <= window {
		return nil, messages
	}
	cut := len(messages) - window
	return messages[:cut], messages[cut:]
}

// toSummaryMessages flattens chat messages for the digest. Image parts
// contribute nothing to a text summary.
func toSummaryMessages(messages []cloud.ChatMessage) []prompt.SummaryMessage {
	out := make([]prompt.SummaryMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		out = append(out, prompt.SummaryMessage{
			Role:    msg.Role,
			Content: msg.Content.PlainText(),
		})
	}
	return out
}

// writeStreamError maps a stream failure to an HTTP error response. Only
// valid before any delta has been written.
func (s *Server) writeStreamError(w http.ResponseWriter, err error) {
	var upstream *cloud.UpstreamError
	switch {
	case errors.Is(err, cloud.ErrNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, "No upstream API keys configured")
	case errors.As(err, &upstream):
		// The original status and body pass through untranslated.
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Upstream error (HTTP %d): %s", upstream.Status, upstream.Body))
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Upstream request timed out")
	default:
		s.writeError(w, http.StatusBadGateway, "Upstream request failed")
	}
}

// publicStreamError is the client-safe description of a mid-stream failure.
func publicStreamError(err error) string {
	var upstream *cloud.UpstreamError
	switch {
	case errors.As(err, &upstream):
		return fmt.Sprintf("upstream error (HTTP %d)", upstream.Status)
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream request timed out"
	default:
		return "stream interrupted"
	}
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// handleModels handles GET /v1/models. The list comes from runtime settings
// so operators can add or retire models without a restart.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)
	settings := s.settings.Get()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models": settings.Models,
	})
}

// ============================================================================
// SETTINGS HANDLERS
// ============================================================================

// handleGetSettings handles GET /v1/settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)
	s.writeJSON(w, http.StatusOK, s.settings.Get())
}

// handlePutSettings handles PUT /v1/settings. Unset fields fall back to
// defaults, so a partial update never wipes templates or the model list.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var next storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		log.Printf("SETTINGS_INVALID | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid settings format")
		return
	}

	if err := s.settings.Update(next); err != nil {
		log.Printf("SETTINGS_UPDATE_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to persist settings")
		return
	}

	log.Printf("SETTINGS_UPDATED | client_ip=%s", GetClientIP(r))
	s.writeJSON(w, http.StatusOK, s.settings.Get())
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleListConversations handles GET /v1/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)

	metas, err := s.conversations.List()
	if err != nil {
		log.Printf("CONVERSATION_LIST_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": metas,
	})
}

// handleSaveConversation handles POST /v1/conversations.
func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var conv storage.StoredConversation
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		log.Printf("CONVERSATION_INVALID | error=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid conversation format")
		return
	}

	id, err := s.conversations.Save(&conv)
	if err != nil {
		log.Printf("CONVERSATION_SAVE_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleGetConversation handles GET /v1/conversations/{id}.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)

	conv, err := s.conversations.Load(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		log.Printf("CONVERSATION_LOAD_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation handles DELETE /v1/conversations/{id}.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)

	if err := s.conversations.Delete(r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		log.Printf("CONVERSATION_DELETE_FAILED | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ============================================================================
// HEALTH AND STATS HANDLERS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UpstreamStatus string `json:"upstream_status"`
	KeyCount       int    `json:"key_count"`
	ModelCount     int    `json:"model_count"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:     "ok",
		Version:    Version,
		ModelCount: len(s.settings.Get().Models),
	}

	if s.cloud != nil && s.cloud.IsConfigured() {
		health.UpstreamStatus = "configured"
		health.KeyCount = s.cloud.KeyCount()
	} else {
		health.UpstreamStatus = "not_configured"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse represents the usage statistics response.
type StatsResponse struct {
	TotalRequests int64 `json:"total_requests"`
	Streams       int64 `json:"streams"`
	StreamErrors  int64 `json:"stream_errors"`
	Deltas        int64 `json:"deltas"`
	SkippedLines  int64 `json:"skipped_lines"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var skipped int64
	if s.cloud != nil {
		skipped = s.cloud.SkippedLines()
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		TotalRequests: s.stats.TotalRequests.Load(),
		Streams:       s.stats.Streams.Load(),
		StreamErrors:  s.stats.StreamErrors.Load(),
		Deltas:        s.stats.Deltas.Load(),
		SkippedLines:  skipped,
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	cors := DefaultCORSConfig()
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		cors.AllowedOrigins = s.cfg.Server.AllowedOrigins
	}

	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(cors),
		RateLimitMiddleware(NewRateLimiter(s.cfg.Server.RateLimitPerMin)),
	)(s.router)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: streaming responses outlive any fixed deadline.
		// Stream lifetime is bounded by the upstream context instead.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
