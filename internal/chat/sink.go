// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// MESSAGE SINK
// =============================================================================

// Sink is the write-only surface the engine streams an assistant turn onto.
//
// Implementations must either be safe for concurrent use or marshal calls
// onto a single writer internally; the engine delivers content tokens in
// backend order and reasoning tokens as an independent monotonic sequence.
type Sink interface {
	// AppendContent delivers one visible content token.
	AppendContent(token string)

	// AppendReasoning delivers one hidden reasoning token.
	AppendReasoning(token string)

	// AddAttachment pins an attachment to the in-flight assistant message.
	AddAttachment(a Attachment)

	// SetMetadata attaches the response metadata block, when enabled.
	SetMetadata(block string)

	// Finish marks the turn terminal. Called exactly once per turn, after
	// all content, reasoning and attachments have been delivered.
	Finish()
}

// =============================================================================
// USER INTERACTION BUS
// =============================================================================

// SurfaceOutcome is delivered by an interactive surface when it resolves.
type SurfaceOutcome struct {
	// Result is the surface's output, empty when cancelled.
	Result string

	// Cancelled is true when the user dismissed the surface.
	Cancelled bool
}

// Interactions is the bus tools use to prompt the user. Implementations
// must marshal onto their own UI thread; the engine calls from worker
// goroutines only.
type Interactions interface {
	// MountSurface asks the host to mount an interactive surface (terminal,
	// web view, camera...). The returned channel delivers exactly one
	// outcome when the surface resolves.
	MountSurface(kind string, args map[string]any) <-chan SurfaceOutcome

	// Confirm asks the user a yes/no question.
	Confirm(prompt string) bool

	// PickFile opens a file chooser. ok is false when dismissed.
	PickFile(title string, patterns []string) (path string, ok bool)

	// NotifyError surfaces a non-fatal error to the user.
	NotifyError(summary, detail string)
}
