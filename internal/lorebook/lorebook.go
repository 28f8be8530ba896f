// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lorebook implements keyword-triggered activation of character
// book entries over the recent message window.
package lorebook

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultScanDepth is the number of recent messages scanned when an entry
// does not set its own depth.
const DefaultScanDepth = 100

// =============================================================================
// TYPES
// =============================================================================

// Entry is one keyword-activated knowledge block.
type Entry struct {
	// Keys are the case-insensitive trigger keywords.
	Keys []string `json:"keys"`

	// Content is the free text spliced into the system prefix on activation.
	Content string `json:"content"`
}

// Book is an ordered set of entries attached to a character card.
type Book struct {
	Entries []Entry `json:"entries"`

	// ScanDepth bounds the recent-message window. Zero means DefaultScanDepth.
	ScanDepth int `json:"scan_depth,omitempty"`
}

// Empty reports whether the book has no entries.
func (b *Book) Empty() bool {
	return b == nil || len(b.Entries) == 0
}

// Depth returns the effective scan depth.
func (b *Book) Depth() int {
	if b.ScanDepth > 0 {
		return b.ScanDepth
	}
	return DefaultScanDepth
}

// =============================================================================
// MATCHER
// =============================================================================

var titleCaser = cases.Title(language.English)

// Activate runs the matcher over the recent messages and returns the
// activation text, or "" when nothing fires.
//
// Entries fire at most once, in insertion order, on the first of their keys
// that matches as a whole word (case-insensitive) anywhere in the joined
// recent text. Blocks render as "# {Key Title}\n\n{content}" joined by
// "\n\n---\n\n". The function is pure: same inputs, same output.
func Activate(book *Book, recent []string) string {
	if book.Empty() || len(recent) == 0 {
		return ""
	}

	haystack := strings.Join(recent, "\n")

	var blocks []string
	for _, entry := range book.Entries {
		for _, key := range entry.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`)
			if err != nil {
				continue
			}
			if pattern.MatchString(haystack) {
				blocks = append(blocks, "# "+titleCaser.String(key)+"\n\n"+entry.Content)
				break
			}
		}
	}

	return strings.Join(blocks, "\n\n---\n\n")
}

// Window returns the last n strings of msgs.
func Window(msgs []string, n int) []string {
	if n <= 0 || n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
