// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the parley engine.
package util

// UNICODE: Rune-aware truncation preserves multi-byte characters.
// These helpers count codepoints, not bytes, so UTF-8 strings are never
// cut mid-character.

// Ellipsize truncates a string to at most maxRunes codepoints and appends
// "..." when anything was cut. Strings at or under the limit pass through
// unchanged.
func Ellipsize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	truncated := TruncateRunes(s, maxRunes)
	if truncated == s {
		return s
	}
	return truncated + "..."
}

// TruncateRunes truncates a string to a maximum number of runes without
// appending an ellipsis.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// FirstLine returns the text up to the first newline.
func FirstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
