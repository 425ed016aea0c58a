// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package keypool manages the pool of upstream API credentials.
//
// OpenRouter rate-limits per key, so outbound requests spread load across a
// pool of keys. Selection is uniform with one constraint: two consecutive
// calls never return the same key (for pools of size >= 2). This is pure
// rejection sampling, not round-robin - no stronger fairness is guaranteed.
package keypool

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvVar is the environment variable holding the comma-separated key list.
const EnvVar = "OPENROUTER_API_KEYS"

// ErrNoKeys indicates the pool is empty. This is a fatal configuration
// error: no outbound call may be attempted without a credential.
var ErrNoKeys = errors.New("no API keys configured")

// Pool holds the credential pool and the index of the last key handed out.
//
// lastIdx is the only mutable state shared across concurrent requests, so
// the read-modify-write in Next is mutex-guarded.
type Pool struct {
	keys    []string
	lastIdx int
	rng     *rand.Rand
	mu      sync.Mutex
}

// New creates a pool from the given keys. Keys are used as provided; use
// FromEnv for parsing an environment value.
func New(keys []string) *Pool {
	return &Pool{
		keys:    keys,
		lastIdx: -1,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeeded creates a pool with a deterministic random source for tests.
func NewSeeded(keys []string, seed int64) *Pool {
	p := New(keys)
	p.rng = rand.New(rand.NewSource(seed))
	return p
}

// FromEnv builds a pool from the OPENROUTER_API_KEYS environment variable,
// a comma-separated list. Whitespace around entries is trimmed and empty
// entries are dropped.
func FromEnv() *Pool {
	return New(ParseKeys(os.Getenv(EnvVar)))
}

// ParseKeys splits a comma-separated credential list.
func ParseKeys(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Next returns the credential to use for the next outbound call.
//
// For pools of size >= 2, the returned key always differs from the previous
// call's key: the index is resampled until it misses lastIdx. A single-key
// pool always returns that key. An empty pool returns ErrNoKeys.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch len(p.keys) {
	case 0:
		return "", ErrNoKeys
	case 1:
		p.lastIdx = 0
		return p.keys[0], nil
	}

	idx := p.rng.Intn(len(p.keys))
	for idx == p.lastIdx {
		idx = p.rng.Intn(len(p.keys))
	}
	p.lastIdx = idx
	return p.keys[idx], nil
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// IsConfigured reports whether at least one credential is available.
func (p *Pool) IsConfigured() bool {
	return p.Size() > 0
}

// Fingerprint returns a short SHA-256 fingerprint of a key for logging.
// SECURITY: Never log key fragments - the fingerprint identifies a key
// without exposing any part of it.
func Fingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}
