// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command parley is a headless REPL over the chat orchestration engine.
// It exercises the full stack: config, persistence, drivers, supervisor,
// tools and the orchestrator, with stdout as the message sink.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/instance"
	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/persist"
	"github.com/jeranaias/parley/internal/supervisor"
	"github.com/jeranaias/parley/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.Instances) == 0 {
		return fmt.Errorf("no instances configured; edit your config file")
	}

	inst := cfg.Instances[0].ToInstance()
	if !inst.Runnable() {
		return fmt.Errorf("instance %s is not runnable", inst.ID)
	}

	if err := os.MkdirAll(cfg.Engine.DataDir, 0755); err != nil {
		return err
	}
	store, err := persist.Open(filepath.Join(cfg.Engine.DataDir, "parley.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	bus := &consoleBus{}
	driver, err := instance.NewDriver(&inst, store, bus.NotifyError)
	if err != nil {
		return err
	}

	// Managed instances get their child started up front.
	var sup *supervisor.Supervisor
	if inst.Flavour == instance.FlavourManaged {
		bin := filepath.Join(cfg.Engine.InstallPrefix, "bin", "ollama")
		if _, statErr := os.Stat(bin); statErr == nil {
			sup = supervisor.New(&inst, bin)
			if err := sup.Start(context.Background()); err != nil {
				log.Printf("could not start managed server: %v", err)
			} else {
				defer sup.Stop()
			}
		} else {
			log.Printf("managed server binary not found at %s; assuming one is already serving", bin)
		}
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, bus, cfg.Engine.DataDir)

	eng := &engine.Engine{
		Inst:     &inst,
		Driver:   driver,
		Store:    store,
		Tools:    registry,
		Bus:      bus,
		Username: cfg.Engine.Username,
		FullName: cfg.Engine.FullName,
	}

	return repl(eng, driver, store)
}

// =============================================================================
// REPL
// =============================================================================

func repl(eng *engine.Engine, driver instance.Driver, store persist.Store) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	c := chat.NewChat()
	if err := store.SaveChat(persist.ChatRecord{ID: c.ID, Title: c.Title}); err != nil {
		log.Printf("could not persist chat: %v", err)
	}
	eng.OnTitle = func(chatID, title string) {
		c.Title = title
		fmt.Printf("\n[chat renamed: %s]\n", title)
	}

	fmt.Println("parley - type a message, /models, /pull <ref>, or /quit")

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted || err == liner.ErrInvalidPrompt {
			return nil
		}
		if err != nil {
			return nil // EOF
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch {
		case input == "/quit":
			return nil
		case input == "/models":
			listModels(driver)
		case strings.HasPrefix(input, "/pull "):
			pullModel(driver, strings.TrimSpace(strings.TrimPrefix(input, "/pull ")))
		default:
			runTurn(eng, c, input)
		}
	}
}

func listModels(driver instance.Driver) {
	models, err := driver.ListLocalModels(context.Background())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(" ", n)
	}
}

func pullModel(driver instance.Driver, ref string) {
	if ref == "" {
		fmt.Println("usage: /pull <model[:tag]>")
		return
	}
	err := driver.PullModel(context.Background(), ref, func(p ollama.Progress) {
		switch {
		case p.Err != nil:
			fmt.Printf("\rpull failed: %v\n", p.Err)
		case p.Done:
			fmt.Printf("\r%s: done          \n", ref)
		case p.Pulse:
			fmt.Printf("\r%s: %s...", ref, p.Status)
		default:
			fmt.Printf("\r%s: %3.0f%%", ref, p.Fraction*100)
		}
	})
	if err != nil {
		fmt.Println("error:", err)
	}
}

func runTurn(eng *engine.Engine, c *chat.Chat, text string) {
	c.Append(chat.NewMessage(chat.RoleUser, text))

	turn := chat.NewTurn(c.ID)
	sink := &consoleSink{}

	err := eng.RunTurn(context.Background(), c, turn, engine.TurnOptions{Mode: engine.ToolModeAuto}, sink)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	msg := chat.NewMessage(chat.RoleAssistant, turn.Content())
	msg.Reasoning = turn.Reasoning()
	msg.Attachments = turn.Attachments
	c.Append(msg)
}

// =============================================================================
// CONSOLE SINK + BUS
// =============================================================================

// consoleSink streams the turn straight to stdout.
type consoleSink struct {
	sawReasoning bool
	sawContent   bool
}

func (s *consoleSink) AppendContent(token string) {
	if s.sawReasoning && !s.sawContent {
		fmt.Print("\n")
	}
	s.sawContent = true
	fmt.Print(token)
}

func (s *consoleSink) AppendReasoning(token string) {
	if !s.sawReasoning {
		fmt.Print("(thinking) ")
	}
	s.sawReasoning = true
	fmt.Print(token)
}

func (s *consoleSink) AddAttachment(a chat.Attachment) {
	fmt.Printf("\n[attachment %s: %s]\n", a.Kind, a.Name)
}

func (s *consoleSink) SetMetadata(block string) {
	fmt.Printf("\n--\n%s\n", block)
}

func (s *consoleSink) Finish() {
	fmt.Println()
}

// consoleBus answers interaction requests from the terminal. Interactive
// surfaces resolve immediately as cancelled; the REPL has nowhere to
// mount them.
type consoleBus struct{}

func (consoleBus) MountSurface(kind string, args map[string]any) <-chan chat.SurfaceOutcome {
	ch := make(chan chat.SurfaceOutcome, 1)
	ch <- chat.SurfaceOutcome{Cancelled: true}
	return ch
}

func (consoleBus) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	var answer string
	fmt.Scanln(&answer)
	return strings.HasPrefix(strings.ToLower(answer), "y")
}

func (consoleBus) PickFile(string, []string) (string, bool) { return "", false }

func (consoleBus) NotifyError(summary, detail string) {
	fmt.Fprintf(os.Stderr, "! %s: %s\n", summary, detail)
}
