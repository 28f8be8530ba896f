// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist provides the persistence adapter between the engine and
// its backing store.
package persist

import (
	"time"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/lorebook"
)

// =============================================================================
// DOMAIN ENTITIES
// =============================================================================

// CharacterCard is the per-model persona bundle.
type CharacterCard struct {
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt"`
	Enabled      bool           `json:"enabled"`
	Book         *lorebook.Book `json:"book,omitempty"`
}

// ModelPreferences are keyed by model reference.
type ModelPreferences struct {
	// Picture is an optional PNG profile picture.
	Picture []byte

	// Voice is an optional voice id for the speech layer.
	Voice string

	// Card is the optional character card.
	Card *CharacterCard
}

// ChatRecord is the listing row for a stored chat.
type ChatRecord struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the engine's only long-lived shared mutable resource. All writes
// pass through it; implementations must serialize internally.
type Store interface {
	// ModelPreferences returns the preferences for a model reference, or
	// nil when none are stored.
	ModelPreferences(model string) (*ModelPreferences, error)

	// SetModelPreferences stores the preferences for a model reference.
	SetModelPreferences(model string, p *ModelPreferences) error

	// Attachments returns the attachments pinned to a message.
	Attachments(messageID string) ([]chat.Attachment, error)

	// SaveAttachment persists an attachment and returns its assigned id.
	SaveAttachment(messageID string, a chat.Attachment) (int64, error)

	// DeleteAttachments removes all attachments for a message.
	DeleteAttachments(messageID string) error

	// Chats lists stored chat records, most recently updated first.
	Chats() ([]ChatRecord, error)

	// SaveChat inserts or updates a chat record.
	SaveChat(rec ChatRecord) error

	// RenameChat updates a chat's display title.
	RenameChat(id, title string) error

	// CloudModels returns the per-instance cloud model allowlist.
	CloudModels(instanceID string) ([]string, error)

	// AddCloudModel appends a model to the per-instance allowlist.
	AddCloudModel(instanceID, model string) error

	// ActionParameters returns the stored parameters for a legacy action
	// plugin, or an empty map.
	ActionParameters(instanceID, action string) (map[string]string, error)

	// SetActionParameters stores parameters for a legacy action plugin.
	SetActionParameters(instanceID, action string, params map[string]string) error

	// Close releases the store.
	Close() error
}
