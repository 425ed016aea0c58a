// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"testing"

	"github.com/morganforge/orchid/internal/util"
)

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil, SummaryOptions{}); got != "" {
		t.Errorf("Summarize(nil) = %q, want empty string", got)
	}
	if got := Summarize([]SummaryMessage{}, SummaryOptions{}); got != "" {
		t.Errorf("Summarize(empty) = %q, want empty string", got)
	}
}

func TestSummarizeSpeakerTokens(t *testing.T) {
	out := Summarize([]SummaryMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}, SummaryOptions{})

	want := "{{user}}: hello\n{{char}}: hi there"
	if out != want {
		t.Errorf("Summarize() = %q, want %q", out, want)
	}
}

func TestSummarizeTruncation(t *testing.T) {
	long := strings.Repeat("x", 200)
	out := Summarize([]SummaryMessage{{Role: "user", Content: long}}, SummaryOptions{})

	content := strings.TrimPrefix(out, "{{user}}: ")
	if !strings.HasSuffix(content, "...") {
		t.Error("truncated content does not end with ellipsis")
	}
	if n := util.RuneLen(content); n > DefaultSummaryMaxChars+3 {
		t.Errorf("truncated content length = %d, want <= %d", n, DefaultSummaryMaxChars+3)
	}

	// At or under the budget: reproduced verbatim.
	exact := strings.Repeat("y", DefaultSummaryMaxChars)
	out = Summarize([]SummaryMessage{{Role: "user", Content: exact}}, SummaryOptions{})
	if out != "{{user}}: "+exact {
		t.Error("content at the budget was modified")
	}
}

func TestSummarizeWindowing(t *testing.T) {
	recent := []SummaryMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}

	base := Summarize(recent, SummaryOptions{})

	// Prepending arbitrary older messages must not change the output.
	older := append([]SummaryMessage{
		{Role: "user", Content: "ancient history"},
		{Role: "assistant", Content: "long forgotten"},
		{Role: "user", Content: "noise"},
	}, recent...)

	if got := Summarize(older, SummaryOptions{}); got != base {
		t.Errorf("older messages changed the digest:\n%q\nvs\n%q", got, base)
	}

	if lines := strings.Split(base, "\n"); len(lines) != DefaultSummaryWindow {
		t.Errorf("digest has %d lines, want %d", len(lines), DefaultSummaryWindow)
	}
}

func TestSummarizeCustomWindow(t *testing.T) {
	msgs := []SummaryMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}

	out := Summarize(msgs, SummaryOptions{Window: 2})
	want := "{{char}}: b\n{{user}}: c"
	if out != want {
		t.Errorf("Summarize(window=2) = %q, want %q", out, want)
	}
}

func TestSummarizeIdempotent(t *testing.T) {
	msgs := []SummaryMessage{
		{Role: "user", Content: strings.Repeat("z", 500)},
		{Role: "assistant", Content: "short"},
	}

	first := Summarize(msgs, SummaryOptions{})
	second := Summarize(msgs, SummaryOptions{})
	if first != second {
		t.Error("Summarize is not idempotent over identical input")
	}
}
