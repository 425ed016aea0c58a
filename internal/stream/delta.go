// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Delta is the unit emitted to the caller for each upstream fragment that
// carries content. Content and Thinking are cumulative snapshots so every
// line is self-contained; FullContent is the raw accumulated text with
// delimiters intact.
type Delta struct {
	Content     string `json:"content"`
	Thinking    string `json:"thinking"`
	FullContent string `json:"fullContent"`
}

// WriteTo encodes the delta as one self-contained JSON line. Callers parse
// each line independently without waiting for stream completion.
func (d Delta) WriteTo(w io.Writer) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write delta: %w", err)
	}
	return nil
}
