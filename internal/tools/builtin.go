// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// DATETIME
// =============================================================================

// DatetimeTool reports the current local time and date.
type DatetimeTool struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (t *DatetimeTool) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *DatetimeTool) Metadata() Metadata {
	return Metadata{
		Name:        "get_current_datetime",
		Description: "Gets the current time, date, or both.",
		Parameters: []Parameter{
			{
				Name:        "type",
				Type:        "string",
				Description: "What to return",
				Enum:        []string{"time", "date", "datetime"},
				Required:    true,
			},
		},
		Runnable:         true,
		EnabledByDefault: true,
		Icon:             "clock",
	}
}

func (t *DatetimeTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	now := t.now()

	var result string
	switch ArgString(args, "type", "datetime") {
	case "time":
		result = now.Format("15:04 PM")
	case "date":
		result = now.Format("Monday, January 2, 2006")
	default:
		result = now.Format("Monday, January 2, 2006 15:04 PM")
	}

	// Empty user-visible message: the model phrases the final answer.
	return "", result, nil
}

// =============================================================================
// RECIPES
// =============================================================================

// recipe is one entry of the bundled recipe dataset.
type recipe struct {
	Name       string
	Category   string
	Directions string
}

var recipeBook = []recipe{
	{"Tortilla de patatas", "spanish", "Slow-fry sliced potato and onion in olive oil, fold into beaten egg, set both sides in a hot pan."},
	{"Gazpacho", "spanish", "Blend ripe tomato, cucumber, pepper, garlic, bread, olive oil and sherry vinegar; chill well."},
	{"Carbonara", "italian", "Toss hot spaghetti with guanciale, egg yolk and pecorino off the heat; loosen with pasta water."},
	{"Minestrone", "italian", "Simmer soffritto, seasonal vegetables, beans and pasta in broth; finish with parmesan."},
	{"Okonomiyaki", "japanese", "Mix cabbage into a dashi batter, griddle with pork belly, dress with sauce, mayo and katsuobushi."},
}

// RecipeByNameTool looks a recipe up by name.
type RecipeByNameTool struct{}

func (t *RecipeByNameTool) Metadata() Metadata {
	return Metadata{
		Name:        "get_recipe_by_name",
		Description: "Gets the directions for a recipe by its name.",
		Parameters: []Parameter{
			{Name: "name", Type: "string", Description: "Recipe name", Required: true},
		},
		Runnable:         true,
		EnabledByDefault: false,
		Icon:             "dinner",
	}
}

func (t *RecipeByNameTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	name := strings.ToLower(ArgString(args, "name", ""))
	for _, r := range recipeBook {
		if strings.ToLower(r.Name) == name {
			return "", r.Name + ": " + r.Directions, nil
		}
	}
	return "", "no recipe found with that name", nil
}

// RecipesByCategoryTool lists recipes in a category.
type RecipesByCategoryTool struct{}

func (t *RecipesByCategoryTool) Metadata() Metadata {
	return Metadata{
		Name:        "get_recipes_by_category",
		Description: "Lists known recipe names in a category.",
		Parameters: []Parameter{
			{Name: "category", Type: "string", Description: "Cuisine category", Required: true},
		},
		Runnable:         true,
		EnabledByDefault: false,
		Icon:             "dinner",
	}
}

func (t *RecipesByCategoryTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	category := strings.ToLower(ArgString(args, "category", ""))

	var names []string
	for _, r := range recipeBook {
		if r.Category == category {
			names = append(names, r.Name)
		}
	}
	if len(names) == 0 {
		return "", "no recipes in that category", nil
	}
	sort.Strings(names)
	return "", strings.Join(names, ", "), nil
}

// =============================================================================
// NOTEBOOK
// =============================================================================

// NotebookTool reads and writes the user's scratch notebook, one text file
// per chat under the notebook directory.
type NotebookTool struct {
	Dir string
}

func (t *NotebookTool) Metadata() Metadata {
	return Metadata{
		Name:        "notebook",
		Description: "Reads or overwrites the chat's persistent notebook.",
		Parameters: []Parameter{
			{
				Name:        "action",
				Type:        "string",
				Description: "Whether to read or write",
				Enum:        []string{"read", "write"},
				Required:    true,
			},
			{Name: "content", Type: "string", Description: "New notebook content for write"},
		},
		Runnable:         true,
		EnabledByDefault: false,
		Icon:             "notebook",
	}
}

func (t *NotebookTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	path := filepath.Join(t.Dir, "notebook.md")

	switch ArgString(args, "action", "read") {
	case "write":
		content := ArgString(args, "content", "")
		if err := util.AtomicWriteFile(path, []byte(content), 0644); err != nil {
			return "", "", fmt.Errorf("notebook write failed: %w", err)
		}
		sink.AddAttachment(chat.NewAttachment("notebook", chat.AttachmentNotebook, content))
		return "", "notebook updated", nil
	default:
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return "", "the notebook is empty", nil
		}
		if err != nil {
			return "", "", fmt.Errorf("notebook read failed: %w", err)
		}
		return "", string(data), nil
	}
}

// =============================================================================
// INTERACTIVE BUILT-INS
// =============================================================================

// TerminalTool runs a command in a host-mounted terminal surface and
// returns its output once the user closes the session.
type TerminalTool struct {
	Bus chat.Interactions
}

func (t *TerminalTool) Metadata() Metadata {
	return Metadata{
		Name:        "run_command",
		Description: "Runs a shell command in an interactive terminal the user can watch and close.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "Command line to execute", Required: true},
		},
		Runnable:          true,
		EnabledByDefault:  false,
		RequiredLibraries: []string{"vte"},
		Icon:              "terminal",
		Interactive:       true,
	}
}

func (t *TerminalTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	outcome, err := RunSurface(ctx, t.Bus, "terminal", map[string]any{
		"command": ArgString(args, "command", ""),
	})
	if err != nil {
		return "", "", err
	}
	return "", outcome.Result, nil
}

// WebSearchTool performs a search in a host-mounted web view and returns
// the page text the surface extracted.
type WebSearchTool struct {
	Bus chat.Interactions
}

func (t *WebSearchTool) Metadata() Metadata {
	return Metadata{
		Name:        "web_search",
		Description: "Searches the web and returns the text of the selected result.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		Runnable:          true,
		EnabledByDefault:  false,
		RequiredLibraries: []string{"webkit"},
		Icon:              "globe",
		Interactive:       true,
	}
}

func (t *WebSearchTool) Run(ctx context.Context, args map[string]any, history []chat.Message, sink chat.Sink) (string, string, error) {
	outcome, err := RunSurface(ctx, t.Bus, "web_search", map[string]any{
		"query": ArgString(args, "query", ""),
	})
	if err != nil {
		return "", "", err
	}
	return "", outcome.Result, nil
}

// RegisterBuiltins adds the built-in tools to a registry. Interactive
// tools are gated on their required libraries by the registry's probe.
func RegisterBuiltins(r *Registry, bus chat.Interactions, notebookDir string) {
	r.Register(&DatetimeTool{})
	r.Register(&RecipeByNameTool{})
	r.Register(&RecipesByCategoryTool{})
	r.Register(&NotebookTool{Dir: notebookDir})
	r.Register(&TerminalTool{Bus: bus})
	r.Register(&WebSearchTool{Bus: bus})
}
