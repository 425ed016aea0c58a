// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

// UNICODE: Rune-aware truncation preserves multi-byte characters.

// Truncate limits s to maxRunes characters, appending "..." when anything
// was cut. The ellipsis is appended after the budget, so the result may be
// up to maxRunes+3 characters long. Counts runes, not bytes, so UTF-8 text
// is never split mid-character.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// TruncateInside limits s to maxRunes characters total, reserving room for
// the "..." marker inside the budget. Used for list previews and summaries
// where the rendered width is fixed.
func TruncateInside(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// RuneLen returns the number of runes (characters) in a string.
func RuneLen(s string) int {
	return len([]rune(s))
}
