// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat defines the conversation data model shared by the engine,
// the drivers and the tool system.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Message is one entry in a conversation.
//
// Tool messages always follow an assistant message; that assistant message
// may have empty content when the model went straight to a tool call.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Reasoning holds the hidden thinking stream. Assistant messages only.
	Reasoning string `json:"reasoning,omitempty"`

	// Images holds base64-encoded PNG/JPEG payloads sent with the message.
	Images []string `json:"images,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// IsSystem reports whether the message is a system frame.
func (m *Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// =============================================================================
// CHATS
// =============================================================================

// Chat is an ordered list of messages with a display title.
type Chat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewChat creates an empty chat titled "New Chat".
func NewChat() *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.NewString(),
		Title:     "New Chat",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps the update timestamp.
func (c *Chat) Append(m Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now()
}

// LastUserText returns the content of the most recent user message, or "".
func (c *Chat) LastUserText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}
