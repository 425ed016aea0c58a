// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles the system prompt sent to the upstream model and
// digests older conversation turns into a compact context summary.
//
// Composition is deterministic: the same PromptContext always yields the
// same string. No I/O, no randomness.
package prompt

import (
	"regexp"
	"strings"
)

// Placeholder tokens recognized in templates and character fields.
const (
	CharToken = "{{char}}"
	UserToken = "{{user}}"
)

// DefaultUserName is substituted for {{user}} when no persona is set.
const DefaultUserName = "User"

var (
	charTokenRe = regexp.MustCompile(`(?i)\{\{char\}\}`)
	userTokenRe = regexp.MustCompile(`(?i)\{\{user\}\}`)
)

// PromptContext carries everything needed to compose one system prompt.
// Request-scoped: consumed once, never persisted.
type PromptContext struct {
	// BaseTemplate is the SFW or NSFW base template, already selected by
	// the character's content classification.
	BaseTemplate string

	CharacterName        string
	CharacterPersonality string
	CharacterScenario    string
	CharacterExample     string

	// PersonaText is the user's self-description, included verbatim. The
	// user's display name is derived from it (text before the first colon).
	PersonaText string

	// ContextSummary is the Summarize output for turns that fell out of
	// the live window. Empty when the window covers the whole conversation.
	ContextSummary string
}

// UserName resolves the user's display name from the persona text: the
// text before the first colon, trimmed. Falls back to DefaultUserName when
// no persona is set or the segment is empty.
func (c PromptContext) UserName() string {
	persona := strings.TrimSpace(c.PersonaText)
	if persona == "" {
		return DefaultUserName
	}
	name := persona
	if idx := strings.Index(persona, ":"); idx >= 0 {
		name = persona[:idx]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUserName
	}
	return name
}

// substitute replaces every case-insensitive occurrence of the char and
// user tokens in s.
func substitute(s, charName, userName string) string {
	s = charTokenRe.ReplaceAllString(s, charName)
	return userTokenRe.ReplaceAllString(s, userName)
}

// ComposeSystemPrompt builds the final instruction text for the upstream
// model. Placeholder substitution applies to the base template and to every
// character field. Optional blocks (scenario, example dialogue, persona,
// context) are omitted entirely when their source is empty - no empty
// headers.
func ComposeSystemPrompt(ctx PromptContext) string {
	charName := strings.TrimSpace(ctx.CharacterName)
	userName := ctx.UserName()

	var b strings.Builder
	b.WriteString(substitute(ctx.BaseTemplate, charName, userName))

	if charName != "" {
		b.WriteString("\n\n### CHARACTER DEFINITION\n")
		b.WriteString("Name: ")
		b.WriteString(charName)
		if p := strings.TrimSpace(ctx.CharacterPersonality); p != "" {
			b.WriteString("\nPersonality: ")
			b.WriteString(substitute(p, charName, userName))
		}
		if s := strings.TrimSpace(ctx.CharacterScenario); s != "" {
			b.WriteString("\nScenario: ")
			b.WriteString(substitute(s, charName, userName))
		}
		if e := strings.TrimSpace(ctx.CharacterExample); e != "" {
			b.WriteString("\nExample dialogue:\n")
			b.WriteString(substitute(e, charName, userName))
		}
	}

	if persona := strings.TrimSpace(ctx.PersonaText); persona != "" {
		b.WriteString("\n\n### USER PERSONA\n")
		b.WriteString(persona)
	}

	if summary := strings.TrimSpace(ctx.ContextSummary); summary != "" {
		b.WriteString("\n\n### RECENT CONTEXT\n")
		b.WriteString(substitute(summary, charName, userName))
		b.WriteString("\n(Continue from this context. Do not repeat it.)")
	}

	return b.String()
}
