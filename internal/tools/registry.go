// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the catalogue of tools the model may invoke.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Parameter describes one entry of a tool's JSON parameter schema.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "boolean", "array"
	Description string
	Enum        []string
	Required    bool
}

// Metadata describes a tool to the registry and to the model.
type Metadata struct {
	// Name is the stable identifier used in tool_calls.
	Name string

	// Description explains the tool to the model.
	Description string

	// Parameters is the ordered parameter schema.
	Parameters []Parameter

	// Runnable tools have side effects and produce attachments.
	Runnable bool

	// EnabledByDefault controls whether the tool joins the enabled set
	// before the user touches anything.
	EnabledByDefault bool

	// RequiredLibraries gates availability on host capabilities. Empty
	// means always available.
	RequiredLibraries []string

	// Icon is a hint for the host's rendering layer.
	Icon string

	// Interactive tools block on an external surface. Their Run must be
	// driven from a worker goroutine, never from the streaming reader.
	Interactive bool
}

// Tool is an invocable unit. Run returns the user-visible message (empty
// when the model should produce the final answer itself) and the raw result
// text fed back into the conversation as a tool message.
type Tool interface {
	Metadata() Metadata
	Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (userVisible, result string, err error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the static tool catalogue, populated at start-up and gated by
// capability probes.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	order      []string
	enabled    map[string]bool
	hasLibrary func(name string) bool
}

// NewRegistry creates an empty registry. The library probe defaults to
// "everything present".
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		enabled:    make(map[string]bool),
		hasLibrary: func(string) bool { return true },
	}
}

// SetLibraryProbe installs the capability probe consulted at registration.
func (r *Registry) SetLibraryProbe(fn func(name string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.hasLibrary = fn
	}
}

// Register adds a tool keyed by its stable name. Tools whose required
// libraries are missing are silently skipped.
func (r *Registry) Register(t Tool) {
	meta := t.Metadata()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lib := range meta.RequiredLibraries {
		if !r.hasLibrary(lib) {
			return
		}
	}
	if _, dup := r.tools[meta.Name]; !dup {
		r.order = append(r.order, meta.Name)
	}
	r.tools[meta.Name] = t
	r.enabled[meta.Name] = meta.EnabledByDefault
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// SetEnabled toggles a tool in the enabled set.
func (r *Registry) SetEnabled(name string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		r.enabled[name] = on
	}
}

// Enabled returns the enabled tools in registration order.
func (r *Registry) Enabled() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for _, name := range r.order {
		if r.enabled[name] {
			out = append(out, r.tools[name])
		}
	}
	return out
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// =============================================================================
// WIRE SCHEMA
// =============================================================================

// WireSpecs renders tool metadata into the /api/chat tools field.
func WireSpecs(ts []Tool) []ollama.Tool {
	out := make([]ollama.Tool, 0, len(ts))
	for _, t := range ts {
		meta := t.Metadata()
		params := ollama.ToolParameters{
			Type:       "object",
			Properties: make(map[string]ollama.ToolProperty, len(meta.Parameters)),
		}
		for _, p := range meta.Parameters {
			params.Properties[p.Name] = ollama.ToolProperty{
				Type:        p.Type,
				Description: p.Description,
				Enum:        p.Enum,
			}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		out = append(out, ollama.Tool{
			Type: "function",
			Function: ollama.ToolSchema{
				Name:        meta.Name,
				Description: meta.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatched is the outcome of one tool call.
type Dispatched struct {
	Name string

	// UserVisible is emitted verbatim as the final answer when no tool in
	// the batch left it empty.
	UserVisible string

	// Result is the raw text appended as a tool message.
	Result string

	// Attachment is the rendered tool-result attachment for the owning
	// assistant message. Exactly one per dispatch.
	Attachment chat.Attachment
}

// Dispatch resolves and runs one tool call, then renders the result
// attachment. Callers must drive Dispatch from a worker goroutine when the
// tool is interactive.
func (r *Registry) Dispatch(ctx context.Context, call ollama.ToolCall, history []chat.Message, sink chat.Sink) (*Dispatched, error) {
	name := call.Function.Name
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	visible, result, err := tool.Run(ctx, call.Function.Arguments, history, sink)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return &Dispatched{
		Name:        name,
		UserVisible: visible,
		Result:      result,
		Attachment: chat.NewAttachment(
			name,
			chat.AttachmentTool,
			renderResult(call.Function.Arguments, result),
		),
	}, nil
}

// renderResult builds the markdown body of a tool attachment: a two-column
// argument table followed by the result section.
func renderResult(args map[string]any, result string) string {
	var b strings.Builder

	b.WriteString("## Arguments\n\n")
	b.WriteString("| Argument | Value |\n")
	b.WriteString("| --- | --- |\n")

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("| %s | %v |\n", k, args[k]))
	}

	b.WriteString("\n## Result\n\n")
	b.WriteString(result)
	return b.String()
}

// =============================================================================
// ARGUMENT HELPERS
// =============================================================================

// ArgString extracts a string argument with a default.
func ArgString(args map[string]any, name, def string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return def
}

// ArgInt extracts an integer argument with a default. JSON numbers decode
// as float64.
func ArgInt(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// ArgBool extracts a boolean argument with a default.
func ArgBool(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}
