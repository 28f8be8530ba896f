// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"sync/atomic"
)

// =============================================================================
// TURN
// =============================================================================

// Turn tracks one in-flight assistant response. It accumulates the streamed
// output and carries the cancellation flag checked between frames and
// between tool dispatches.
type Turn struct {
	ChatID string

	cancelled  atomic.Bool
	streaming  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}

	content   strings.Builder
	reasoning strings.Builder

	// Attachments committed by tools during the turn, ordered before the
	// terminal marker.
	Attachments []Attachment

	// Metadata holds the stringified final-frame block, when enabled.
	Metadata string
}

// NewTurn creates a turn for the given chat.
func NewTurn(chatID string) *Turn {
	return &Turn{ChatID: chatID, cancelCh: make(chan struct{})}
}

// Cancel sets the cancellation flag. The flag is monotonic: once set it is
// never cleared.
func (t *Turn) Cancel() {
	t.cancelled.Store(true)
	t.cancelOnce.Do(func() {
		if t.cancelCh != nil {
			close(t.cancelCh)
		}
	})
}

// Done returns a channel closed when the turn is cancelled. Nil for
// zero-value turns; NewTurn always provides one.
func (t *Turn) Done() <-chan struct{} {
	return t.cancelCh
}

// Cancelled reports whether the turn was cancelled.
func (t *Turn) Cancelled() bool {
	return t.cancelled.Load()
}

// SetStreaming marks whether the turn is currently consuming a stream.
func (t *Turn) SetStreaming(v bool) {
	t.streaming.Store(v)
}

// Streaming reports whether the turn is consuming a stream.
func (t *Turn) Streaming() bool {
	return t.streaming.Load()
}

// AddContent appends visible content to the accumulator.
func (t *Turn) AddContent(s string) {
	t.content.WriteString(s)
}

// AddReasoning appends hidden reasoning to the accumulator.
func (t *Turn) AddReasoning(s string) {
	t.reasoning.WriteString(s)
}

// Content returns the accumulated visible content.
func (t *Turn) Content() string {
	return t.content.String()
}

// Reasoning returns the accumulated reasoning text.
func (t *Turn) Reasoning() string {
	return t.reasoning.String()
}
