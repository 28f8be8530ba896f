// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama wire protocol.
//
// This package implements the full operation set of an Ollama-compatible
// endpoint: model listing, model info, streaming pull/create ingest, blob
// addressing, deletion, and chat in both streaming and one-shot form.
//
// # Key Types
//
//   - Client: HTTP client bound to one endpoint, with optional bearer token
//   - ChatRequest: Request structure carrying think/keep_alive/tools/format
//   - StreamChunk: One streamed frame, split into content and thinking
//   - Progress: Pull/create ingest progress (fraction, pulse, or terminal)
//   - AuthError: Soft unauthorized failure carrying a sign-in URL
//
// # Usage
//
// Create a client and stream a chat:
//
//	client := ollama.NewClient(ollama.Config{BaseURL: "http://127.0.0.1:11434"})
//	err := client.ChatStream(ctx, req, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Content)
//	})
//
// # Streaming
//
// Streamed endpoints speak NDJSON. The readers tolerate frames split
// across buffer boundaries and do not assume the done frame is the last
// byte of the response. Streaming requests carry no global timeout;
// non-streaming requests are bounded to 10 seconds.
package ollama
