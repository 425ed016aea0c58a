// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"

	"github.com/morganforge/orchid/internal/util"
)

// Summarizer policy defaults. Both are configuration, surfaced through
// SummaryOptions; the constants document the reference behavior.
const (
	// DefaultSummaryWindow is how many trailing messages the digest covers.
	DefaultSummaryWindow = 4

	// DefaultSummaryMaxChars is the per-message content budget in runes.
	// Truncation cuts at the budget regardless of word boundaries.
	DefaultSummaryMaxChars = 150
)

// SummaryMessage is one conversation turn as seen by the summarizer.
type SummaryMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// SummaryOptions controls the digest shape. Zero values select the
// reference defaults.
type SummaryOptions struct {
	Window   int
	MaxChars int
}

func (o SummaryOptions) window() int {
	if o.Window > 0 {
		return o.Window
	}
	return DefaultSummaryWindow
}

func (o SummaryOptions) maxChars() int {
	if o.MaxChars > 0 {
		return o.MaxChars
	}
	return DefaultSummaryMaxChars
}

// Summarize reduces the last Window messages to a compact digest: one
// "<speaker>: <content>" line per message, content truncated to MaxChars
// runes with "..." appended when cut, lines joined by newlines.
//
// Pure and stateless - the output depends only on the trailing Window
// entries of messages. Returns the empty string for no messages.
func Summarize(messages []SummaryMessage, opts SummaryOptions) string {
	if len(messages) == 0 {
		return ""
	}

	window := opts.window()
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		speaker := CharToken
		if msg.Role == "user" {
			speaker = UserToken
		}
		lines = append(lines, speaker+": "+util.Truncate(msg.Content, opts.maxChars()))
	}

	return strings.Join(lines, "\n")
}
