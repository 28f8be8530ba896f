// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama wire protocol.
package ollama

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
	ErrTypeAuthRequired
)

// Sentinel errors for easy checking.
var (
	ErrUnreachable   = &ClientError{Type: ErrTypeUnreachable, Message: "instance is unreachable"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// AuthError is the soft failure recognised from a
// {"error":"unauthorized","signin_url":...} body. Callers downgrade it to a
// sign-in prompt instead of an error dialog.
type AuthError struct {
	SigninURL string
}

func (e *AuthError) Error() string {
	return "unauthorized: sign in at " + e.SigninURL
}

// AsAuthError unwraps err into an AuthError when it is one.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsUnreachable checks if an error indicates the instance could not be
// reached.
func IsUnreachable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == ErrTypeUnreachable
	}
	return false
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == ErrTypeModelNotFound
	}
	return errors.Is(err, ErrModelNotFound)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultTimeout bounds the non-streaming endpoints (tags, show, chat-once,
// delete, blob probe). Streaming endpoints carry no global timeout; they are
// governed by their context.
const DefaultTimeout = 10 * time.Second

// Config holds configuration options for the Ollama client.
type Config struct {
	// BaseURL is the API base URL, e.g. http://127.0.0.1:11434.
	// Uses explicit IPv4 by default to avoid IPv6 resolution issues.
	BaseURL string

	// Token, when set, is sent as an Authorization bearer header.
	Token string

	// Timeout for non-streaming requests (default: 10s).
	Timeout time.Duration
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with one Ollama-compatible endpoint.
// It is safe for concurrent use.
type Client struct {
	config       Config
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the given endpoint.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// No timeout for streaming; cancellation comes from the context.
		streamClient: &http.Client{},
	}
}

// BaseURL returns the endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// newRequest builds a request with the content type and bearer header set.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// postJSON marshals v and issues a POST on the non-streaming client.
func (c *Client) postJSON(ctx context.Context, path string, v interface{}) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// transportError maps a transport failure onto the client taxonomy.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &ClientError{Type: ErrTypeUnreachable, Message: "instance is unreachable", Cause: err}
}

// decodeError turns a non-2xx response into an error. Unauthorized bodies
// carrying a signin_url become AuthError.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var apiErr struct {
		Error     string `json:"error"`
		SigninURL string `json:"signin_url"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Error == "unauthorized" && apiErr.SigninURL != "" {
			return &AuthError{SigninURL: apiErr.SigninURL}
		}
		if apiErr.Error != "" {
			if resp.StatusCode == http.StatusNotFound {
				return &ClientError{Type: ErrTypeModelNotFound, Message: apiErr.Error}
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	return &ClientError{Type: ErrTypeUnreachable, Message: "unexpected status: " + resp.Status}
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// Tags retrieves the locally installed models via GET /api/tags.
func (c *Client) Tags(ctx context.Context) ([]ModelInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// Show retrieves model information via POST /api/show.
func (c *Client) Show(ctx context.Context, model string) (*ShowResponse, error) {
	resp, err := c.postJSON(ctx, "/api/show", ShowRequest{Model: model})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result ShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// Delete removes a model via DELETE /api/delete. Returns true when the
// server acknowledged the removal.
func (c *Client) Delete(ctx context.Context, model string) (bool, error) {
	body, err := json.Marshal(DeleteRequest{Model: model})
	if err != nil {
		return false, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/delete", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return true, nil
}

// =============================================================================
// STREAMING INGEST (PULL / CREATE)
// =============================================================================

// progressInterval throttles intermediate progress callbacks. Terminal
// frames always go through.
var progressInterval = rate.Every(100 * time.Millisecond)

// Pull downloads a model via POST /api/pull, reporting NDJSON progress
// frames through fn.
func (c *Client) Pull(ctx context.Context, model string, fn ProgressFunc) error {
	return c.ingest(ctx, "/api/pull", PullRequest{Model: model, Stream: true}, fn)
}

// Create builds a model via POST /api/create. The spec's file references
// must name blobs already uploaded (see BlobExists / UploadBlob).
func (c *Client) Create(ctx context.Context, spec CreateRequest, fn ProgressFunc) error {
	spec.Stream = true
	return c.ingest(ctx, "/api/create", spec, fn)
}

func (c *Client) ingest(ctx context.Context, path string, reqBody interface{}, fn ProgressFunc) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	limiter := rate.NewLimiter(progressInterval, 1)
	return readIngestStream(ctx, resp.Body, limiter, fn)
}

// =============================================================================
// BLOBS
// =============================================================================

// BlobExists probes HEAD /api/blobs/sha256:<hex>. 200 means present, 404
// means absent; anything else is an error.
func (c *Client) BlobExists(ctx context.Context, digest string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, "/api/blobs/sha256:"+digest, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, transportError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &ClientError{Type: ErrTypeInvalidResponse, Message: "unexpected blob status: " + resp.Status}
	}
}

// UploadBlob streams the file at path to POST /api/blobs/sha256:<hex>.
func (c *Client) UploadBlob(ctx context.Context, path, digest string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to open blob file", Cause: err}
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/blobs/sha256:"+digest, f)
	if err != nil {
		return &ClientError{Type: ErrTypeUnreachable, Message: "failed to create request", Cause: err}
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// DigestFile computes the sha256 hex digest of a file. This is the
// canonical model-file identity on the wire.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ChatOnce sends a non-streaming chat request. Used for title generation
// and the tool pre-pass.
func (c *Client) ChatOnce(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	chatReq.Stream = false
	resp, err := c.postJSON(ctx, "/api/chat", chatReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// StreamCallback is called for each chunk received during streaming, in
// arrival order on the reader goroutine.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls the callback for each
// frame. Returns when the done frame arrives, the context is cancelled, or
// the transport fails.
func (c *Client) ChatStream(ctx context.Context, chatReq ChatRequest, callback StreamCallback) error {
	chatReq.Stream = true

	body, err := json.Marshal(chatReq)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, callback)
}
