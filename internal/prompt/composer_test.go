// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"testing"
)

func TestComposeSystemPromptSubstitutionTotality(t *testing.T) {
	ctx := PromptContext{
		BaseTemplate:         DefaultNSFWTemplate,
		CharacterName:        "Luna",
		CharacterPersonality: "cheerful, loves teasing {{user}}",
		CharacterScenario:    "{{char}} meets {{USER}} at a cafe",
		CharacterExample:     "{{Char}}: \"Hello!\"",
		PersonaText:          "Alex: a quiet programmer",
	}

	out := ComposeSystemPrompt(ctx)

	for _, token := range []string{"{{char}}", "{{Char}}", "{{CHAR}}", "{{user}}", "{{User}}", "{{USER}}"} {
		if strings.Contains(out, token) {
			t.Errorf("output still contains placeholder %q", token)
		}
	}
	lower := strings.ToLower(out)
	if strings.Contains(lower, "{{char}}") || strings.Contains(lower, "{{user}}") {
		t.Error("case-insensitive placeholder survived substitution")
	}

	if !strings.Contains(out, "Luna") {
		t.Error("output missing character name")
	}
	if !strings.Contains(out, "cheerful") {
		t.Error("output missing personality")
	}
	if !strings.Contains(out, "Alex") {
		t.Error("output missing resolved user name")
	}
}

func TestComposeSystemPromptOptionalBlocks(t *testing.T) {
	// Bare context: no character, no persona, no summary.
	out := ComposeSystemPrompt(PromptContext{BaseTemplate: "You are {{char}}."})

	for _, header := range []string{"### CHARACTER DEFINITION", "### USER PERSONA", "### RECENT CONTEXT"} {
		if strings.Contains(out, header) {
			t.Errorf("empty source emitted header %q", header)
		}
	}

	// Scenario and example omitted when empty, present otherwise.
	out = ComposeSystemPrompt(PromptContext{
		BaseTemplate:         "base",
		CharacterName:        "Luna",
		CharacterPersonality: "cheerful",
	})
	if strings.Contains(out, "Scenario:") {
		t.Error("empty scenario emitted a Scenario line")
	}
	if strings.Contains(out, "Example dialogue:") {
		t.Error("empty example emitted an example block")
	}
	if !strings.Contains(out, "### CHARACTER DEFINITION") {
		t.Error("character present but definition block missing")
	}
}

func TestComposeSystemPromptPersonaAndContext(t *testing.T) {
	out := ComposeSystemPrompt(PromptContext{
		BaseTemplate:   "hi {{user}}",
		CharacterName:  "Luna",
		PersonaText:    "Sam: an adventurer seeking treasure",
		ContextSummary: "{{user}}: found the map\n{{char}}: grinned",
	})

	if !strings.Contains(out, "### USER PERSONA\nSam: an adventurer seeking treasure") {
		t.Error("persona block missing or not verbatim")
	}
	if !strings.Contains(out, "### RECENT CONTEXT") {
		t.Error("context block missing")
	}
	if !strings.Contains(out, "Do not repeat") {
		t.Error("context block missing the do-not-repeat instruction")
	}
	// Summary speaker tokens resolve to names.
	if !strings.Contains(out, "Sam: found the map") {
		t.Error("summary user token not substituted")
	}
	if !strings.Contains(out, "Luna: grinned") {
		t.Error("summary char token not substituted")
	}
}

func TestUserNameDerivation(t *testing.T) {
	tests := []struct {
		name    string
		persona string
		want    string
	}{
		{"no persona", "", DefaultUserName},
		{"name before colon", "Alex: a quiet programmer", "Alex"},
		{"whitespace trimmed", "  Riley  : sailor", "Riley"},
		{"no colon uses whole text", "Jordan", "Jordan"},
		{"empty before colon", ": mysterious", DefaultUserName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PromptContext{PersonaText: tt.persona}.UserName()
			if got != tt.want {
				t.Errorf("UserName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComposeSystemPromptDeterministic(t *testing.T) {
	ctx := PromptContext{
		BaseTemplate:         DefaultSFWTemplate,
		CharacterName:        "Luna",
		CharacterPersonality: "cheerful",
		PersonaText:          "Alex: programmer",
		ContextSummary:       "{{user}}: hi",
	}

	first := ComposeSystemPrompt(ctx)
	for i := 0; i < 5; i++ {
		if got := ComposeSystemPrompt(ctx); got != first {
			t.Fatal("ComposeSystemPrompt is not deterministic")
		}
	}
}

func TestSelectTemplate(t *testing.T) {
	if SelectTemplate(true, "", "") != DefaultNSFWTemplate {
		t.Error("nsfw without override should return the default NSFW template")
	}
	if SelectTemplate(false, "", "") != DefaultSFWTemplate {
		t.Error("sfw without override should return the default SFW template")
	}
	if SelectTemplate(true, "sfw-custom", "nsfw-custom") != "nsfw-custom" {
		t.Error("nsfw override ignored")
	}
	if SelectTemplate(false, "sfw-custom", "nsfw-custom") != "sfw-custom" {
		t.Error("sfw override ignored")
	}
}
