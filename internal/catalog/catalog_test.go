// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import "testing"

func TestDefaultModels(t *testing.T) {
	models := DefaultModels()
	if len(models) == 0 {
		t.Fatal("no default models")
	}

	seen := make(map[string]bool)
	var thinking, image int
	for _, m := range models {
		if m.ID == "" || m.Name == "" {
			t.Errorf("model missing id or name: %+v", m)
		}
		if seen[m.ID] {
			t.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.SupportsThinking {
			thinking++
		}
		if m.SupportsImage {
			image++
		}
	}
	if thinking == 0 {
		t.Error("no thinking-capable model in defaults")
	}
	if image == 0 {
		t.Error("no image-capable model in defaults")
	}
}

func TestFind(t *testing.T) {
	models := DefaultModels()

	got, ok := Find(models, models[0].ID)
	if !ok || got.ID != models[0].ID {
		t.Errorf("Find() = %+v, %v", got, ok)
	}

	if _, ok := Find(models, "no/such-model"); ok {
		t.Error("Find() matched a missing id")
	}
}
