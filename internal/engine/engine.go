// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the per-turn conversation orchestrator.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/instance"
	"github.com/jeranaias/parley/internal/lorebook"
	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/persist"
	"github.com/jeranaias/parley/internal/tools"
)

// =============================================================================
// TOOL MODES
// =============================================================================

// ToolMode selects how tools participate in a turn.
type ToolMode int

const (
	// ToolModeNone sends no tools and performs no pre-pass.
	ToolModeNone ToolMode = iota

	// ToolModeAuto offers the enabled tool set in a non-streaming
	// pre-pass.
	ToolModeAuto

	// ToolModeSingle offers exactly one named tool; otherwise identical
	// to auto.
	ToolModeSingle
)

// TurnOptions parameterize one turn.
type TurnOptions struct {
	// Model is the chat model reference; empty falls back to the
	// instance default.
	Model string

	Mode ToolMode

	// Tool names the tool for ToolModeSingle.
	Tool string
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives conversations against one instance. Hosts construct one
// engine per instance and call RunTurn once per user message; the host
// enforces single-turn-in-flight per chat.
type Engine struct {
	Inst   *instance.Instance
	Driver instance.Driver
	Store  persist.Store
	Tools  *tools.Registry
	Bus    chat.Interactions

	// Username and FullName feed the identity frame per the instance's
	// share_name policy.
	Username string
	FullName string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	// OnTitle is invoked when title generation renames a chat.
	OnTitle func(chatID, title string)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RunTurn drives one assistant turn to completion: system-frame
// injection, optional title side-task, optional tool pre-pass, streaming,
// and finalization. Errors inside the streaming loop finalize with
// partial content; RunTurn returns an error only when the turn could not
// start at all.
func (e *Engine) RunTurn(ctx context.Context, c *chat.Chat, turn *chat.Turn, opts TurnOptions, sink chat.Sink) error {
	model := opts.Model
	if model == "" {
		model = e.Inst.DefaultModel
	}
	if model == "" {
		return fmt.Errorf("no model selected for instance %s", e.Inst.ID)
	}

	msgs := wireMessages(c.Messages)

	var prefs *persist.ModelPreferences
	if e.Store != nil {
		p, err := e.Store.ModelPreferences(model)
		if err != nil {
			log.Printf("engine: model preferences %s: %v", model, err)
		}
		prefs = p
	}

	// Capability probe, cached for the whole turn.
	show, err := e.Driver.ModelInfo(ctx, model)
	if err != nil {
		log.Printf("engine: model info %s: %v", model, err)
		show = nil
	}

	msgs = e.injectFrames(msgs, prefs, show)

	if strings.HasPrefix(c.Title, "New Chat") {
		go e.generateTitle(c.ID, model, c.LastUserText())
	}

	if opts.Mode != ToolModeNone {
		verbatim, extended, err := e.toolPass(ctx, c, turn, opts, model, msgs, show, sink)
		if err != nil {
			if e.surfaceAuth(err, turn, sink) {
				e.finish(turn, sink, nil)
				return nil
			}
			e.finish(turn, sink, nil)
			return err
		}
		if verbatim != "" {
			turn.AddContent(verbatim)
			sink.AppendContent(verbatim)
			e.finish(turn, sink, nil)
			return nil
		}
		msgs = extended
	}

	final, err := e.stream(ctx, turn, model, msgs, show, sink)
	if err != nil {
		if e.surfaceAuth(err, turn, sink) {
			e.finish(turn, sink, nil)
			return nil
		}
		// Mid-stream failures finalize with whatever arrived.
		log.Printf("engine: stream %s: %v", model, err)
	}
	e.finish(turn, sink, final)
	return nil
}

// =============================================================================
// SYSTEM FRAME INJECTION
// =============================================================================

// injectFrames applies the prepare steps. Lorebook activation splices
// after any existing system frames; the identity, model-system and time
// frames each prepend, so the final prefix order is: time, model system
// prompt, identity, pre-existing system frames, lorebook block.
func (e *Engine) injectFrames(msgs []ollama.Message, prefs *persist.ModelPreferences, show *ollama.ShowResponse) []ollama.Message {
	if block := e.lorebookBlock(msgs, prefs); block != "" {
		msgs = spliceAfterSystems(msgs, ollama.NewSystemMessage(block))
	}

	if name := e.sharedName(); name != "" {
		msgs = prepend(msgs, ollama.NewSystemMessage("The user you are speaking with is named "+name+"."))
	}

	if show != nil && show.System != "" {
		msgs = prepend(msgs, ollama.NewSystemMessage(show.System))
	}

	stamp := e.now().Format(time.RFC3339)
	msgs = prepend(msgs, ollama.NewSystemMessage("Current date and time: "+stamp))

	return msgs
}

// lorebookBlock runs the matcher over the recent non-system window.
func (e *Engine) lorebookBlock(msgs []ollama.Message, prefs *persist.ModelPreferences) string {
	if prefs == nil || prefs.Card == nil || !prefs.Card.Enabled || prefs.Card.Book.Empty() {
		return ""
	}
	book := prefs.Card.Book

	var recent []string
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		recent = append(recent, m.Content)
	}
	recent = lorebook.Window(recent, book.Depth())
	return lorebook.Activate(book, recent)
}

func (e *Engine) sharedName() string {
	switch e.Inst.ShareName {
	case instance.ShareUsername:
		return e.Username
	case instance.ShareFullName:
		return e.FullName
	default:
		return ""
	}
}

func prepend(msgs []ollama.Message, m ollama.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs)+1)
	out = append(out, m)
	return append(out, msgs...)
}

// spliceAfterSystems inserts m after the leading run of system frames.
func spliceAfterSystems(msgs []ollama.Message, m ollama.Message) []ollama.Message {
	idx := 0
	for idx < len(msgs) && msgs[idx].Role == "system" {
		idx++
	}
	out := make([]ollama.Message, 0, len(msgs)+1)
	out = append(out, msgs[:idx]...)
	out = append(out, m)
	return append(out, msgs[idx:]...)
}

// wireMessages converts the domain history into wire messages.
func wireMessages(msgs []chat.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollama.Message{
			Role:     string(m.Role),
			Content:  m.Content,
			Thinking: m.Reasoning,
			Images:   m.Images,
		})
	}
	return out
}

// =============================================================================
// TOOL PRE-PASS
// =============================================================================

// toolPass performs the non-streaming tool pre-pass. It returns either a
// verbatim final answer (when every tool produced a user-visible message)
// or the extended message vector for the streaming re-entry.
func (e *Engine) toolPass(ctx context.Context, c *chat.Chat, turn *chat.Turn, opts TurnOptions, model string, msgs []ollama.Message, show *ollama.ShowResponse, sink chat.Sink) (string, []ollama.Message, error) {
	var selected []tools.Tool
	switch opts.Mode {
	case ToolModeSingle:
		t, ok := e.Tools.Get(opts.Tool)
		if !ok {
			return "", nil, fmt.Errorf("unknown tool %q", opts.Tool)
		}
		selected = []tools.Tool{t}
	default:
		selected = e.Tools.Enabled()
	}
	if len(selected) == 0 {
		return "", msgs, nil
	}

	req := e.Inst.ComposeChat(model, msgs, false, show)
	req.Tools = tools.WireSpecs(selected)

	resp, err := e.Driver.ChatOnce(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if !resp.Message.HasToolCalls() {
		return "", msgs, nil
	}

	msgs = append(msgs, resp.Message)

	answerless := false
	var verbatim string
	for _, call := range resp.Message.ToolCalls {
		if turn.Cancelled() {
			break
		}

		d, err := e.Tools.Dispatch(ctx, call, c.Messages, sink)
		if err != nil {
			log.Printf("engine: tool %s: %v", call.Function.Name, err)
			if e.Bus != nil && e.Inst.Runnable() {
				e.Bus.NotifyError("Tool failed", err.Error())
			}
			msgs = append(msgs, ollama.NewToolResultMessage("error: "+err.Error()))
			answerless = true
			continue
		}

		turn.Attachments = append(turn.Attachments, d.Attachment)
		sink.AddAttachment(d.Attachment)
		msgs = append(msgs, ollama.NewToolResultMessage(d.Result))

		if d.UserVisible == "" {
			answerless = true
		} else {
			verbatim = d.UserVisible
		}
	}

	if answerless || verbatim == "" {
		return "", msgs, nil
	}
	return verbatim, msgs, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// stream issues the streaming chat call and routes frames to the sink.
// Cancellation closes the HTTP response via context and is not an error.
func (e *Engine) stream(ctx context.Context, turn *chat.Turn, model string, msgs []ollama.Message, show *ollama.ShowResponse, sink chat.Sink) (*ollama.StreamChunk, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if done := turn.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	req := e.Inst.ComposeChat(model, msgs, true, show)

	turn.SetStreaming(true)
	defer turn.SetStreaming(false)

	var final *ollama.StreamChunk
	err := e.Driver.ChatStream(ctx, req, func(chunk ollama.StreamChunk) {
		if turn.Cancelled() {
			cancel()
			return
		}
		if chunk.Content != "" {
			turn.AddContent(chunk.Content)
			sink.AppendContent(chunk.Content)
		}
		if chunk.Thinking != "" {
			turn.AddReasoning(chunk.Thinking)
			sink.AppendReasoning(chunk.Thinking)
		}
		if chunk.Done {
			cp := chunk
			final = &cp
		}
	})
	if err != nil && turn.Cancelled() {
		// Clean break: partial content stands, no error surfaces.
		return nil, nil
	}
	return final, err
}

// =============================================================================
// FINALIZATION
// =============================================================================

// finish commits metadata when enabled and marks the turn terminal.
// Cancelled turns omit the metadata block.
func (e *Engine) finish(turn *chat.Turn, sink chat.Sink, final *ollama.StreamChunk) {
	if e.Inst.ShowResponseMetadata && final != nil && !turn.Cancelled() {
		block := metadataBlock(final)
		turn.Metadata = block
		sink.SetMetadata(block)
	}
	sink.Finish()
}

// surfaceAuth downgrades an authentication failure into a link
// attachment and a friendly sentence. Reports whether err was one.
func (e *Engine) surfaceAuth(err error, turn *chat.Turn, sink chat.Sink) bool {
	authErr, ok := ollama.AsAuthError(err)
	if !ok {
		return false
	}

	a := chat.NewAttachment("Sign in", chat.AttachmentLink, authErr.SigninURL)
	turn.Attachments = append(turn.Attachments, a)
	sink.AddAttachment(a)

	const msg = "This instance needs you to sign in before chatting. Use the attached link to continue."
	turn.AddContent(msg)
	sink.AppendContent(msg)
	return true
}

// metadataBlock stringifies the final frame into key/value lines.
func metadataBlock(c *ollama.StreamChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "model: %s\n", c.Model)
	fmt.Fprintf(&b, "done reason: %s\n", c.DoneReason)
	fmt.Fprintf(&b, "total duration: %s\n", c.TotalDuration)
	fmt.Fprintf(&b, "load duration: %s\n", c.LoadDuration)
	fmt.Fprintf(&b, "prompt tokens: %d\n", c.PromptTokens)
	fmt.Fprintf(&b, "prompt eval duration: %s\n", c.PromptEvalDuration)
	fmt.Fprintf(&b, "response tokens: %d\n", c.CompletionTokens)
	fmt.Fprintf(&b, "eval duration: %s", c.EvalDuration)
	if c.EvalDuration > 0 {
		fmt.Fprintf(&b, "\ntokens per second: %.1f", float64(c.CompletionTokens)/c.EvalDuration.Seconds())
	}
	return b.String()
}
