// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama wire protocol.
package ollama

import (
	"encoding/json"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message on the wire.
type Message struct {
	Role      string     `json:"role"`                 // "user", "assistant", "system", "tool"
	Content   string     `json:"content"`              // The message content
	Thinking  string     `json:"thinking,omitempty"`   // Hidden reasoning (assistant only)
	Images    []string   `json:"images,omitempty"`     // Base64 PNG/JPEG payloads
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // Tool calls requested by assistant
}

// ToolCall represents a tool invocation from the model.
type ToolCall struct {
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name and arguments.
type ToolFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ChatRequest is the request body for /api/chat.
//
// Think is sent true only when the target model's capabilities include
// "thinking"; Options is included only when parameter overrides are on.
type ChatRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	Stream    bool            `json:"stream"`
	Think     bool            `json:"think"`
	KeepAlive int             `json:"keep_alive"`
	Tools     []Tool          `json:"tools,omitempty"`
	Options   *Options        `json:"options,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"` // JSON schema for constrained output
}

// Tool represents a tool definition for function calling.
type Tool struct {
	Type     string     `json:"type"` // Always "function"
	Function ToolSchema `json:"function"`
}

// ToolSchema defines a tool's interface.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters defines the parameters schema for a tool.
type ToolParameters struct {
	Type       string                  `json:"type"` // "object"
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

// ToolProperty defines a single parameter property using JSON Schema.
type ToolProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Options contains model parameters for inference.
// Seed is omitted from the wire when zero.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	Seed        int     `json:"seed,omitempty"`
}

// ShowRequest is the request for /api/show.
type ShowRequest struct {
	Model string `json:"model"`
}

// PullRequest is the request for /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// CreateRequest is the request for /api/create.
type CreateRequest struct {
	Model      string            `json:"model"`
	From       string            `json:"from,omitempty"`
	System     string            `json:"system,omitempty"`
	Parameters *CreateParameters `json:"parameters,omitempty"`
	Files      map[string]string `json:"files,omitempty"` // filename -> "sha256:<hex>"
	Stream     bool              `json:"stream"`
}

// CreateParameters carries the tunables sent with a model create.
type CreateParameters struct {
	TopK   int     `json:"top_k,omitempty"`
	TopP   float64 `json:"top_p,omitempty"`
	NumCtx int     `json:"num_ctx,omitempty"`
}

// DeleteRequest is the request for /api/delete.
type DeleteRequest struct {
	Model string `json:"model"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is a single /api/chat object (stream:false) or the decoded
// shape of one streamed frame.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       int64     `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`    // tokens in prompt
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int       `json:"eval_count,omitempty"`           // tokens generated
	EvalDuration       int64     `json:"eval_duration,omitempty"`        // nanoseconds
}

// ModelInfo describes one locally installed model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// TagsResponse is the response from /api/tags.
type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowResponse is the response from /api/show.
type ShowResponse struct {
	License      string       `json:"license"`
	Modelfile    string       `json:"modelfile"`
	Parameters   string       `json:"parameters"`
	Template     string       `json:"template"`
	System       string       `json:"system"`
	Capabilities []string     `json:"capabilities"`
	Details      ModelDetails `json:"details"`
}

// HasCapability reports whether the model advertises the named capability.
func (r *ShowResponse) HasCapability(name string) bool {
	for _, c := range r.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single frame from a streaming chat response.
type StreamChunk struct {
	// Content and Thinking are the two logical channels split out of the
	// frame's message.
	Content  string
	Thinking string

	// Tool calls requested by the model.
	ToolCalls []ToolCall

	Done       bool
	DoneReason string

	// Timing information, populated on the final frame only.
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int

	Model string

	// Error if any occurred during streaming.
	Error error
}

// ingestFrame is one NDJSON line from /api/pull or /api/create.
type ingestFrame struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// Progress reports the state of a streaming pull or create.
type Progress struct {
	Status string

	// Fraction is completed/total when the frame carried both.
	Fraction float64

	// Pulse is true when progress is unknown for this frame.
	Pulse bool

	// Done is true on the terminal success frame.
	Done bool

	// Err is set on the terminal error frame.
	Err error
}

// ProgressFunc receives pull/create progress updates.
type ProgressFunc func(Progress)

// =============================================================================
// HELPER CONSTRUCTORS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewToolResultMessage creates a tool result message.
func NewToolResultMessage(content string) Message {
	return Message{Role: "tool", Content: content}
}

// HasToolCalls returns true if the message contains tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
