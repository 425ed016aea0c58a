// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/orchid/internal/keypool"
)

func testPool() *keypool.Pool {
	return keypool.New([]string{"sk-or-test-key"})
}

func TestChatStreamFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-or-test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if r.Header.Get("HTTP-Referer") == "" || r.Header.Get("X-Title") == "" {
			t.Error("missing referer/title identification headers")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testPool()).WithBaseURL(server.URL)

	var fragments []string
	err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "m1",
		Messages: []ChatMessage{NewUserMessage("Hi")},
	}, func(f string) {
		fragments = append(fragments, f)
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	if len(fragments) != 2 || fragments[0] != "Hello" || fragments[1] != " there" {
		t.Errorf("fragments = %v, want [Hello,  there]", fragments)
	}
}

func TestChatStreamChunkBoundaries(t *testing.T) {
	// The same payload must yield the same fragment sequence regardless of
	// how the bytes are chunked, including splits mid-line.
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n" +
		"data: [DONE]\n\n"

	for cut := 1; cut < len(payload); cut++ {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprint(w, payload[:cut])
			flusher.Flush()
			fmt.Fprint(w, payload[cut:])
		}))

		client := NewClient(testPool()).WithBaseURL(server.URL)

		var fragments []string
		err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(f string) {
			fragments = append(fragments, f)
		})
		server.Close()

		if err != nil {
			t.Fatalf("cut %d: ChatStream() error = %v", cut, err)
		}
		if len(fragments) != 2 || fragments[0] != "Hello" || fragments[1] != " there" {
			t.Fatalf("cut %d: fragments = %v", cut, fragments)
		}
	}
}

func TestChatStreamUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer server.Close()

	client := NewClient(testPool()).WithBaseURL(server.URL)

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(string) {
		t.Error("callback invoked on error response")
	})

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if upErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", upErr.Status)
	}
	if !strings.Contains(upErr.Body, "boom") {
		t.Errorf("body = %q, want original error body", upErr.Body)
	}
}

func TestChatStreamMalformedLinesSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok1\"}}]}\n\n")
		fmt.Fprint(w, "data: {not valid json\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok2\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testPool()).WithBaseURL(server.URL)

	var fragments []string
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(f string) {
		fragments = append(fragments, f)
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if len(fragments) != 2 || fragments[0] != "ok1" || fragments[1] != "ok2" {
		t.Errorf("fragments = %v, want good lines only", fragments)
	}
	if client.SkippedLines() != 1 {
		t.Errorf("SkippedLines() = %d, want 1", client.SkippedLines())
	}
}

func TestChatStreamHeaderTimeout(t *testing.T) {
	// An upstream that accepts the connection but never sends headers must
	// fail within the request timeout instead of hanging.
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(testPool()).
		WithBaseURL(server.URL).
		WithRequestTimeout(50 * time.Millisecond)

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(string) {
		t.Error("callback invoked despite missing response headers")
	})
	if err == nil {
		t.Fatal("ChatStream() error = nil, want header timeout")
	}
}

func TestChatStreamEmptyPool(t *testing.T) {
	client := NewClient(keypool.New(nil))

	err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(string) {})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
	if !errors.Is(err, keypool.ErrNoKeys) {
		t.Errorf("error = %v, should wrap keypool.ErrNoKeys", err)
	}
}

func TestChatStreamEOFWithoutDone(t *testing.T) {
	// Stream ending without the [DONE] sentinel is still a clean finish.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")
	}))
	defer server.Close()

	client := NewClient(testPool()).WithBaseURL(server.URL)

	var fragments []string
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m1"}, func(f string) {
		fragments = append(fragments, f)
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "tail" {
		t.Errorf("fragments = %v, want trailing unterminated line parsed", fragments)
	}
}
