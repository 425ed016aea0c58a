// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog defines the set of upstream models the service exposes.
//
// Each descriptor records the capabilities that drive prompt and UI
// branching: whether the model emits inline thinking traces and whether it
// accepts image content.
package catalog

// ModelDescriptor identifies an upstream model and its capabilities.
type ModelDescriptor struct {
	ID               string `json:"id" toml:"id"`
	Name             string `json:"name" toml:"name"`
	SupportsThinking bool   `json:"supports_thinking" toml:"supports_thinking"`
	SupportsImage    bool   `json:"supports_image" toml:"supports_image"`
}

// DefaultModels returns the built-in model list. The active list is
// settings data and may be replaced at runtime; these are the shipped
// defaults.
func DefaultModels() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "xiaomi/mimo-v2-flash:free", Name: "MiMo v2 Flash", SupportsThinking: true, SupportsImage: false},
		{ID: "tngtech/deepseek-r1t2-chimera:free", Name: "DeepSeek R1T2", SupportsThinking: true, SupportsImage: false},
		{ID: "google/gemini-2.0-flash-exp:free", Name: "Gemini 2.0 Flash", SupportsThinking: false, SupportsImage: true},
		{ID: "qwen/qwen-2.5-vl-7b-instruct:free", Name: "Qwen 2.5 VL", SupportsThinking: false, SupportsImage: true},
		{ID: "google/gemma-3-27b-it:free", Name: "Gemma 3 27B", SupportsThinking: false, SupportsImage: true},
	}
}

// Find returns the descriptor with the given ID from models, or false if
// no such model exists.
func Find(models []ModelDescriptor, id string) (ModelDescriptor, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}
