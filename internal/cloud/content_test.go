// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"testing"
)

func TestMessageContentTextWire(t *testing.T) {
	msg := NewUserMessage("hello")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"role":"user","content":"hello"}`
	if string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}

	var back ChatMessage
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Content.IsParts() || back.Content.Text != "hello" {
		t.Errorf("round trip = %+v", back.Content)
	}
}

func TestMessageContentPartsWire(t *testing.T) {
	msg := ChatMessage{
		Role: "user",
		Content: PartsContent(
			ContentPart{Type: PartTypeText, Text: "look at this"},
			ContentPart{Type: PartTypeImage, ImageURL: &ImageURL{URL: "https://example.com/cat.png"}},
		),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back ChatMessage
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Content.IsParts() {
		t.Fatal("parts variant lost in round trip")
	}
	if len(back.Content.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(back.Content.Parts))
	}
	if back.Content.Parts[1].ImageURL == nil || back.Content.Parts[1].ImageURL.URL != "https://example.com/cat.png" {
		t.Errorf("image part = %+v", back.Content.Parts[1])
	}
}

func TestMessageContentPlainText(t *testing.T) {
	if got := TextContent("abc").PlainText(); got != "abc" {
		t.Errorf("PlainText() = %q", got)
	}

	parts := PartsContent(
		ContentPart{Type: PartTypeText, Text: "a"},
		ContentPart{Type: PartTypeImage, ImageURL: &ImageURL{URL: "u"}},
		ContentPart{Type: PartTypeText, Text: "b"},
	)
	if got := parts.PlainText(); got != "ab" {
		t.Errorf("PlainText() = %q, want text parts only", got)
	}
}

func TestMessageContentRejectsOtherShapes(t *testing.T) {
	var m MessageContent
	if err := json.Unmarshal([]byte(`42`), &m); err == nil {
		t.Error("numeric content accepted, want error")
	}
	if err := json.Unmarshal([]byte(`{"x":1}`), &m); err == nil {
		t.Error("object content accepted, want error")
	}
	if err := json.Unmarshal([]byte(`null`), &m); err != nil {
		t.Errorf("null content rejected: %v", err)
	}
}
