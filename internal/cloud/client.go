// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the OpenRouter streaming client.
//
// Each outbound call draws a credential from the key pool, issues one
// streaming chat-completions request, and forwards content fragments to the
// caller as they arrive. There is no retry policy: a single upstream
// failure is a terminal failure for that send, and the orchestrator layer
// owns the user-facing fallback.
package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/morganforge/orchid/internal/keypool"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultRequestTimeout bounds the time to first response headers.
	// The streaming body is exempt; its lifetime is covered by the stream
	// timeout and the caller's context.
	DefaultRequestTimeout = 120 * time.Second

	// DefaultStreamTimeout bounds a full streaming response. Generous
	// because roleplay completions can run long.
	DefaultStreamTimeout = 300 * time.Second

	// MaxErrorBodySize caps how much of an upstream error body is read.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxErrorBodySize = 1 * 1024 * 1024

	// userAgent identifies this service to the upstream provider.
	userAgent = "orchid/0.1.0"
)

// newStreamingTransport builds the transport shared by streaming clients.
// headerTimeout bounds the wait for response headers; zero disables it.
// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
func newStreamingTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// sharedStreamingClient is used for all streaming requests. No client
// timeout - stream lifetime is controlled via context, and the transport's
// header timeout catches an upstream that accepts the connection but never
// answers.
var sharedStreamingClient = &http.Client{
	Transport: newStreamingTransport(DefaultRequestTimeout),
}

// ErrNotConfigured indicates no API credential is available for the call.
var ErrNotConfigured = errors.New("OpenRouter API keys not configured")

// UpstreamError is a non-2xx response from the upstream provider. The
// original status code and body are preserved and surfaced to the caller
// verbatim; the request is not retried.
type UpstreamError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Body)
}

// ChatRequest is the body of a chat-completions call.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

// streamChunk is one parsed SSE data line from the upstream stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the fragment carried by the first choice, if any.
func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// FragmentFunc receives each visible content fragment in upstream order.
type FragmentFunc func(fragment string)

// Client talks to the OpenRouter chat-completions endpoint.
type Client struct {
	baseURL       string
	keys          *keypool.Pool
	siteURL       string
	siteName      string
	streamTimeout time.Duration
	httpClient    *http.Client

	// skippedLines counts malformed stream lines that were tolerated.
	// Observability only - skipping is normal operation.
	skippedLines atomic.Int64
}

// NewClient creates a client drawing credentials from the given pool.
func NewClient(keys *keypool.Pool) *Client {
	return &Client{
		baseURL:       DefaultBaseURL,
		keys:          keys,
		siteURL:       "https://orchid.morganforge.dev",
		siteName:      "Orchid",
		streamTimeout: DefaultStreamTimeout,
		httpClient:    sharedStreamingClient,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithSite sets the referer URL and title identifying the calling
// application to the upstream provider.
func (c *Client) WithSite(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	return c
}

// WithRequestTimeout bounds how long the upstream may take to return
// response headers. Non-positive values keep the current transport. The
// client gets its own transport so other clients sharing the default keep
// their deadline.
func (c *Client) WithRequestTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpClient = &http.Client{Transport: newStreamingTransport(d)}
	}
	return c
}

// WithStreamTimeout bounds the total lifetime of one streaming call.
// Zero disables the client-side deadline (the caller's context still
// applies).
func (c *Client) WithStreamTimeout(d time.Duration) *Client {
	c.streamTimeout = d
	return c
}

// IsConfigured reports whether at least one credential is available.
func (c *Client) IsConfigured() bool {
	return c.keys != nil && c.keys.IsConfigured()
}

// KeyCount returns the size of the credential pool.
func (c *Client) KeyCount() int {
	if c.keys == nil {
		return 0
	}
	return c.keys.Size()
}

// SkippedLines returns how many malformed stream lines were tolerated over
// the client's lifetime.
func (c *Client) SkippedLines() int64 {
	return c.skippedLines.Load()
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// ChatStream issues one streaming chat-completions request and calls fn for
// each content fragment, in upstream emission order.
//
// Failure semantics: an empty key pool fails fast with ErrNotConfigured
// before any network activity; a non-2xx response returns UpstreamError with
// the original status and body; a transport failure mid-stream returns the
// read error. None of these are retried.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn FragmentFunc) error {
	if c.keys == nil {
		return ErrNotConfigured
	}
	apiKey, err := c.keys.Next()
	if err != nil {
		if errors.Is(err, keypool.ErrNoKeys) {
			return fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
		return err
	}

	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	req.Stream = true
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	log.Printf("UPSTREAM_REQUEST | model=%s messages=%d key=%s", req.Model, len(req.Messages), keypool.Fingerprint(apiKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		log.Printf("UPSTREAM_ERROR | status=%d key=%s", resp.StatusCode, keypool.Fingerprint(apiKey))
		return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	return c.processStream(ctx, resp.Body, fn)
}

// processStream reads the upstream body as arbitrary-sized chunks,
// reassembles complete lines across chunk boundaries, and forwards each
// parsed fragment.
//
// Pull-based by construction: the next chunk is read only after every
// complete line from the current one has been processed and forwarded, so
// backpressure propagates to the upstream connection.
func (c *Client) processStream(ctx context.Context, body io.Reader, fn FragmentFunc) error {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			// Extract every complete line; the trailing partial line
			// stays in pending for the next chunk.
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]

				if done := c.processLine(line, fn); done {
					return nil
				}
			}
		}

		if err == io.EOF {
			// A final line without a trailing newline still counts.
			if len(pending) > 0 {
				c.processLine(pending, fn)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// processLine handles one complete line from the event stream. Returns true
// when the stream terminator was seen.
//
// Tolerance policy: lines without the data prefix (keep-alives, comments)
// and data lines that fail to parse are skipped, not fatal - upstream may
// interleave malformed fragments in an otherwise good stream. Skips are
// logged and counted for observability.
func (c *Client) processLine(line []byte, fn FragmentFunc) bool {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return false
	}

	if !bytes.HasPrefix(line, []byte("data:")) {
		return false
	}
	data := bytes.TrimSpace(line[len("data:"):])

	// Literal terminator sentinel: recognized and ignored, not an error.
	if bytes.Equal(data, []byte("[DONE]")) {
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		c.skippedLines.Add(1)
		log.Printf("STREAM_SKIP | reason=parse_error total_skipped=%d", c.skippedLines.Load())
		return false
	}

	if content := chunk.content(); content != "" {
		fn(content)
	}
	return false
}
