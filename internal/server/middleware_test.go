// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(60) // burst of 15

	allowed := 0
	for i := 0; i < 100; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed >= 100 {
		t.Error("limiter never blocked")
	}
	if allowed < 10 {
		t.Errorf("limiter too strict: allowed %d of first burst", allowed)
	}

	// Separate IPs have separate budgets.
	if !rl.Allow("10.0.0.2") {
		t.Error("fresh IP was blocked")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("middleware order = %v, want [a b c]", order)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct connection", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted proxy ignores xff", "203.0.113.5:1234", "198.51.100.7", "203.0.113.5"},
		{"trusted proxy honors xff", "127.0.0.1:1234", "198.51.100.7", "198.51.100.7"},
		{"trusted proxy invalid xff", "127.0.0.1:1234", "not-an-ip", "127.0.0.1"},
		{"xff first of list", "127.0.0.1:1234", "198.51.100.7, 10.0.0.1", "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSPreflights(t *testing.T) {
	cors := DefaultCORSConfig()
	handler := CORSMiddleware(cors)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodOptions, "/v1/chat/stream", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}

	// Disallowed origin gets no CORS headers.
	r2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r2.Header.Set("Origin", "http://evil.example.com")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r2)
	if got := w2.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin for disallowed origin = %q, want empty", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
