// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jeranaias/parley/internal/util"
)

// titleMaxRunes is the display cap for generated titles, counted in
// codepoints.
const titleMaxRunes = 30

// generateTitle is the asynchronous title side-task: one constrained
// non-streaming chat whose outcome renames the chat and nothing else.
// Failures are logged and swallowed; the main stream never waits on it.
func (e *Engine) generateTitle(chatID, model, userText string) {
	// Pasted walls of text make bad title prompts; the opening line is
	// what the title should reflect.
	userText = util.FirstLine(userText)
	if userText == "" {
		return
	}

	req := e.Inst.ComposeTitleChat(model, userText)
	resp, err := e.Driver.ChatOnce(context.Background(), req)
	if err != nil {
		log.Printf("engine: title generation: %v", err)
		return
	}

	var parsed struct {
		Title string `json:"title"`
		Emoji string `json:"emoji"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &parsed); err != nil || parsed.Title == "" {
		log.Printf("engine: title generation: unusable response %q", resp.Message.Content)
		return
	}

	title := util.Ellipsize(parsed.Title, titleMaxRunes)
	if parsed.Emoji != "" {
		title = parsed.Emoji + " " + title
	}

	if e.Store != nil {
		if err := e.Store.RenameChat(chatID, title); err != nil {
			log.Printf("engine: title rename %s: %v", chatID, err)
		}
	}
	if e.OnTitle != nil {
		e.OnTitle(chatID, title)
	}
}
