// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

// staticCatalog is the bundled "models you could install" list served by
// local flavours. Cloud instances derive theirs from the endpoint.
var staticCatalog = map[string]AvailableModel{
	"llama3.2": {
		Tags:        []string{"1b", "3b", "latest"},
		Categories:  []string{"small", "multilingual"},
		Languages:   []string{"en", "de", "fr", "it", "pt", "hi", "es", "th"},
		Description: "Meta's compact instruction-tuned models for edge and desktop use.",
		URL:         "https://ollama.com/library/llama3.2",
	},
	"llama3.1": {
		Tags:        []string{"8b", "70b", "latest"},
		Categories:  []string{"medium", "tools"},
		Languages:   []string{"en", "de", "fr", "it", "pt", "hi", "es", "th"},
		Description: "Meta's general-purpose models with tool-calling support.",
		URL:         "https://ollama.com/library/llama3.1",
	},
	"qwen2.5": {
		Tags:        []string{"0.5b", "1.5b", "3b", "7b", "14b", "32b", "72b", "latest"},
		Categories:  []string{"multilingual", "tools"},
		Languages:   []string{"en", "zh", "ja", "ko", "fr", "de", "es"},
		Description: "Alibaba's multilingual series with strong coding and math.",
		URL:         "https://ollama.com/library/qwen2.5",
	},
	"qwen3": {
		Tags:        []string{"0.6b", "1.7b", "4b", "8b", "14b", "30b", "latest"},
		Categories:  []string{"thinking", "tools"},
		Languages:   []string{"en", "zh", "ja", "ko", "fr", "de", "es"},
		Description: "Hybrid thinking models that expose their reasoning stream.",
		URL:         "https://ollama.com/library/qwen3",
	},
	"deepseek-r1": {
		Tags:        []string{"1.5b", "7b", "8b", "14b", "32b", "latest"},
		Categories:  []string{"thinking"},
		Languages:   []string{"en", "zh"},
		Description: "Reasoning-first distillations that emit a thinking channel.",
		URL:         "https://ollama.com/library/deepseek-r1",
	},
	"gemma3": {
		Tags:        []string{"1b", "4b", "12b", "27b", "latest"},
		Categories:  []string{"small", "vision"},
		Languages:   []string{"en"},
		Description: "Google's open models; the larger tags accept images.",
		URL:         "https://ollama.com/library/gemma3",
	},
	"mistral": {
		Tags:        []string{"7b", "latest"},
		Categories:  []string{"medium", "tools"},
		Languages:   []string{"en", "fr", "de", "es", "it"},
		Description: "Mistral's 7B workhorse with function calling.",
		URL:         "https://ollama.com/library/mistral",
	},
	"phi4": {
		Tags:        []string{"14b", "latest"},
		Categories:  []string{"medium"},
		Languages:   []string{"en"},
		Description: "Microsoft's distilled model tuned for dense reasoning.",
		URL:         "https://ollama.com/library/phi4",
	},
	"llava": {
		Tags:        []string{"7b", "13b", "34b", "latest"},
		Categories:  []string{"vision"},
		Languages:   []string{"en"},
		Description: "Vision-language model for image-grounded chat.",
		URL:         "https://ollama.com/library/llava",
	},
	"nomic-embed-text": {
		Tags:        []string{"latest"},
		Categories:  []string{"embedding"},
		Languages:   []string{"en"},
		Description: "Text embedding model; not chat-capable.",
		URL:         "https://ollama.com/library/nomic-embed-text",
	},
	"gpt-oss": {
		Tags:        []string{"20b", "120b", "latest"},
		Categories:  []string{"thinking", "tools", "cloud"},
		Languages:   []string{"en"},
		Description: "OpenAI's open-weight reasoning models.",
		URL:         "https://ollama.com/library/gpt-oss",
	},
	"deepseek-v3.1": {
		Tags:        []string{"671b", "latest"},
		Categories:  []string{"cloud", "tools"},
		Languages:   []string{"en", "zh"},
		Description: "DeepSeek's flagship, usually served from cloud instances.",
		URL:         "https://ollama.com/library/deepseek-v3.1",
	},
}

// Catalog returns a copy of the bundled catalogue so callers can decorate
// entries without mutating the shared table.
func Catalog() map[string]AvailableModel {
	out := make(map[string]AvailableModel, len(staticCatalog))
	for name, entry := range staticCatalog {
		out[name] = entry
	}
	return out
}
