// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream separates inline "thinking" traces from visible content in
// model output and encodes the structured deltas forwarded to callers.
//
// Thinking-capable models wrap their reasoning in <think>...</think>
// delimiters inside the same token stream as the prose. The demux runs per
// fragment so thinking is revealed incrementally while it streams, and the
// visible/invisible split self-corrects as more of the delimited region
// arrives.
package stream

import (
	"strings"
)

// Thinking delimiters as emitted by upstream models.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// ParseThinking splits a fully-formed string into its thinking and visible
// parts. Every complete <think>...</think> region is extracted; an unclosed
// trailing <think> swallows the rest of the string as thinking. Text outside
// the delimiters is untouched apart from a final trim.
func ParseThinking(s string) (thinking, visible string) {
	var think, vis strings.Builder
	rest := s
	for {
		start := strings.Index(rest, ThinkOpen)
		if start < 0 {
			vis.WriteString(rest)
			break
		}
		vis.WriteString(rest[:start])
		rest = rest[start+len(ThinkOpen):]

		end := strings.Index(rest, ThinkClose)
		if end < 0 {
			// Unclosed region: everything remaining is thinking.
			think.WriteString(rest)
			break
		}
		think.WriteString(rest[:end])
		rest = rest[end+len(ThinkClose):]
	}
	return strings.TrimSpace(think.String()), strings.TrimSpace(vis.String())
}

// Splitter is the incremental form of ParseThinking. Each Push consumes one
// upstream fragment exactly once - the scan position is carried between
// fragments instead of rescanning the accumulated text, so cost stays linear
// in stream length.
type Splitter struct {
	full     strings.Builder
	visible  strings.Builder
	thinking strings.Builder

	// inThinking is true while the scan position is inside an open
	// <think> region.
	inThinking bool

	// tail holds trailing bytes that may be the start of a delimiter split
	// across fragment boundaries. Never longer than a delimiter.
	tail string
}

// NewSplitter creates an empty splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Push consumes the next upstream fragment.
func (sp *Splitter) Push(fragment string) {
	if fragment == "" {
		return
	}
	sp.full.WriteString(fragment)

	data := sp.tail + fragment
	sp.tail = ""

	for data != "" {
		delim := ThinkOpen
		out := &sp.visible
		if sp.inThinking {
			delim = ThinkClose
			out = &sp.thinking
		}

		idx := strings.Index(data, delim)
		if idx >= 0 {
			out.WriteString(data[:idx])
			data = data[idx+len(delim):]
			sp.inThinking = !sp.inThinking
			continue
		}

		// No complete delimiter. Hold back any suffix that could be the
		// start of one, emit the rest.
		hold := partialDelimSuffix(data, delim)
		out.WriteString(data[:len(data)-hold])
		sp.tail = data[len(data)-hold:]
		return
	}
}

// partialDelimSuffix returns the length of the longest suffix of data that
// is a proper prefix of delim.
func partialDelimSuffix(data, delim string) int {
	max := len(delim) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(delim, data[len(data)-n:]) {
			return n
		}
	}
	return 0
}

// Full returns the raw accumulated content, delimiters included.
func (sp *Splitter) Full() string {
	return sp.full.String()
}

// Visible returns the user-visible content accumulated so far.
func (sp *Splitter) Visible() string {
	// Held-back bytes outside a thinking region are visible prose until a
	// delimiter completes; include them so nothing appears withheld.
	if !sp.inThinking && sp.tail != "" {
		return strings.TrimSpace(sp.visible.String() + sp.tail)
	}
	return strings.TrimSpace(sp.visible.String())
}

// Thinking returns the thinking content accumulated so far.
func (sp *Splitter) Thinking() string {
	if sp.inThinking && sp.tail != "" {
		return strings.TrimSpace(sp.thinking.String() + sp.tail)
	}
	return strings.TrimSpace(sp.thinking.String())
}

// Delta builds the structured delta for the current accumulated state.
func (sp *Splitter) Delta() Delta {
	return Delta{
		Content:     sp.Visible(),
		Thinking:    sp.Thinking(),
		FullContent: sp.Full(),
	}
}
