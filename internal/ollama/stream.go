// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama wire protocol.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CHAT STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of /api/chat streaming
// responses. NDJSON framing: one object per line, but a frame may arrive
// split across buffer boundaries, and the done frame is not guaranteed to
// be the last byte of the response.
type StreamReader struct {
	reader *bufio.Reader
	model  string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each frame. Returns
// nil once the done frame has been delivered or the stream ends; returns
// ctx.Err() on cancellation.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			chunk, err := s.readChunk()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if chunk == nil {
				continue
			}
			callback(*chunk)
			if chunk.Done {
				// Stop on the done frame; trailing bytes are ignored.
				return nil
			}
		}
	}
}

// readChunk reads and parses a single line from the stream. Returns
// (nil, nil) for blank or malformed lines.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			return nil, err
		}
		// Partial final line without a trailing newline: parse it anyway.
	}

	if len(line) == 0 {
		return nil, nil
	}

	var frame struct {
		Model     string    `json:"model"`
		CreatedAt time.Time `json:"created_at"`
		Message   struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			Thinking  string     `json:"thinking"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		Done               bool   `json:"done"`
		DoneReason         string `json:"done_reason,omitempty"`
		TotalDuration      int64  `json:"total_duration,omitempty"`
		LoadDuration       int64  `json:"load_duration,omitempty"`
		PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
		PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
		EvalCount          int    `json:"eval_count,omitempty"`
		EvalDuration       int64  `json:"eval_duration,omitempty"`
	}
	if err := json.Unmarshal(line, &frame); err != nil {
		// Skip malformed lines
		return nil, nil
	}

	if frame.Model != "" {
		s.model = frame.Model
	}

	chunk := &StreamChunk{
		Content:    frame.Message.Content,
		Thinking:   frame.Message.Thinking,
		ToolCalls:  frame.Message.ToolCalls,
		Done:       frame.Done,
		DoneReason: frame.DoneReason,
		Model:      s.model,
	}

	if frame.Done {
		chunk.TotalDuration = time.Duration(frame.TotalDuration)
		chunk.LoadDuration = time.Duration(frame.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(frame.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(frame.EvalDuration)
		chunk.PromptTokens = frame.PromptEvalCount
		chunk.CompletionTokens = frame.EvalCount
	}

	return chunk, nil
}

// =============================================================================
// INGEST STREAM READER (PULL / CREATE)
// =============================================================================

// readIngestStream consumes the NDJSON frames of /api/pull and /api/create.
// Intermediate frames are throttled through the limiter; terminal success
// and error frames are always delivered.
func readIngestStream(ctx context.Context, r io.Reader, limiter *rate.Limiter, fn ProgressFunc) error {
	reader := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(line) == 0 {
			continue
		}

		var frame ingestFrame
		if json.Unmarshal(line, &frame) != nil {
			continue
		}

		if frame.Error != "" {
			ingestErr := &ClientError{Type: ErrTypeInvalidResponse, Message: frame.Error}
			if fn != nil {
				fn(Progress{Status: frame.Status, Err: ingestErr})
			}
			return ingestErr
		}

		if frame.Status == "success" {
			if fn != nil {
				fn(Progress{Status: frame.Status, Fraction: 1, Done: true})
			}
			return nil
		}

		if fn == nil || !limiter.Allow() {
			continue
		}
		if frame.Total > 0 {
			fn(Progress{Status: frame.Status, Fraction: float64(frame.Completed) / float64(frame.Total)})
		} else {
			fn(Progress{Status: frame.Status, Pulse: true})
		}
	}
}
