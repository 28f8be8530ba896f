// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package instance models configured backend endpoints and the drivers
// that speak to them.
package instance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// FLAVOURS
// =============================================================================

// Flavour identifies how an instance's backend is reached and managed.
type Flavour string

const (
	// FlavourManaged is a local Ollama subprocess owned by the supervisor.
	FlavourManaged Flavour = "managed"

	// FlavourExternal is a local or remote Ollama endpoint we do not manage.
	FlavourExternal Flavour = "external"

	// FlavourCloud is a hosted endpoint with a bearer token and a
	// per-instance model allowlist.
	FlavourCloud Flavour = "cloud"

	// FlavourEmpty is a placeholder row with no backend behind it.
	FlavourEmpty Flavour = "empty"
)

// ShareName controls which identity frame is injected into conversations.
type ShareName string

const (
	ShareNone     ShareName = "none"
	ShareUsername ShareName = "username"
	ShareFullName ShareName = "full_name"
)

// =============================================================================
// INSTANCE
// =============================================================================

// Instance is one configured backend endpoint.
type Instance struct {
	ID      string
	Name    string
	Flavour Flavour

	// BaseURL is the endpoint root, e.g. http://127.0.0.1:11434.
	BaseURL string

	// Token is the bearer token for cloud endpoints. Empty means no
	// Authorization header.
	Token string

	// ModelDir is where the managed child stores model files. Managed only.
	ModelDir string

	// Env holds user overrides merged into the managed child's environment.
	Env map[string]string

	// DefaultModel is preselected for new chats; TitleModel, when set, is
	// used for title generation instead of the chat model.
	DefaultModel string
	TitleModel   string

	// Parameter overrides, applied only when OverrideParameters is on.
	Temperature float64
	Seed        int
	NumCtx      int

	// KeepAlive is the model keep-alive in seconds sent on every chat.
	KeepAlive int

	OverrideParameters   bool
	Think                bool
	Expose               bool
	ShareName            ShareName
	ShowResponseMetadata bool
}

// Validate reports configuration problems that would make the instance
// unusable.
func (i *Instance) Validate() error {
	switch i.Flavour {
	case FlavourManaged, FlavourExternal, FlavourCloud, FlavourEmpty:
	default:
		return fmt.Errorf("instance %s: unknown flavour %q", i.ID, i.Flavour)
	}
	if i.Flavour != FlavourEmpty && i.BaseURL == "" {
		return fmt.Errorf("instance %s: base URL is required", i.ID)
	}
	if i.Flavour == FlavourCloud && i.Token == "" {
		return fmt.Errorf("instance %s: cloud instances need a token", i.ID)
	}
	return nil
}

// Runnable reports whether the instance can serve chat requests at all.
func (i *Instance) Runnable() bool {
	return i.Flavour != FlavourEmpty
}

// TitleModelFor returns the model used for title generation: the
// configured title model when set, else the chat model.
func (i *Instance) TitleModelFor(chatModel string) string {
	if i.TitleModel != "" {
		return i.TitleModel
	}
	return chatModel
}

// Client builds the wire client for this instance.
func (i *Instance) Client() *ollama.Client {
	return ollama.NewClient(ollama.Config{
		BaseURL: i.BaseURL,
		Token:   i.Token,
	})
}

// =============================================================================
// REQUEST COMPOSITION
// =============================================================================

// ComposeChat assembles a ChatRequest under the instance's policy flags:
// think is sent true only when the model advertises the "thinking"
// capability, and options ride along only when overrides are enabled.
// Seed stays zero-valued so the wire codec omits it.
func (i *Instance) ComposeChat(model string, messages []ollama.Message, stream bool, caps *ollama.ShowResponse) ollama.ChatRequest {
	req := ollama.ChatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    stream,
		KeepAlive: i.KeepAlive,
	}
	if i.Think && caps != nil && caps.HasCapability("thinking") {
		req.Think = true
	}
	if i.OverrideParameters {
		req.Options = &ollama.Options{
			Temperature: i.Temperature,
			NumCtx:      i.NumCtx,
			Seed:        i.Seed,
		}
	}
	return req
}

// TitleFormat is the constrained-output schema sent with title generation.
var TitleFormat = json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"emoji":{"type":"string"}},"required":["title"]}`)

// ComposeTitleChat assembles the non-streaming title-generation request:
// constrained JSON output, low temperature, and keep_alive 0 so the side
// task does not pin the model.
func (i *Instance) ComposeTitleChat(chatModel, userText string) ollama.ChatRequest {
	prompt := "Generate a short title for the following message. " +
		"Respond with JSON containing a \"title\" and an optional single \"emoji\".\n\n" + userText
	return ollama.ChatRequest{
		Model:     i.TitleModelFor(chatModel),
		Messages:  []ollama.Message{ollama.NewUserMessage(prompt)},
		Stream:    false,
		KeepAlive: 0,
		Options:   &ollama.Options{Temperature: 0.2},
		Format:    TitleFormat,
	}
}

// =============================================================================
// MODEL REFERENCES
// =============================================================================

// SplitRef splits a model reference into base name and tag. A missing tag
// returns "latest" for display purposes; callers keep the original string
// for the wire.
func SplitRef(ref string) (name, tag string) {
	if idx := strings.Index(ref, ":"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, "latest"
}
