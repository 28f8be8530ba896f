// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/instance"
	"github.com/jeranaias/parley/internal/lorebook"
	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/persist"
	"github.com/jeranaias/parley/internal/tools"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// recordSink captures everything the engine delivers.
type recordSink struct {
	mu          sync.Mutex
	content     []string
	reasoning   []string
	attachments []chat.Attachment
	metadata    string
	finished    int

	// onContent, when set, observes each content token as it lands.
	onContent func(token string)
}

func (s *recordSink) AppendContent(token string) {
	s.mu.Lock()
	s.content = append(s.content, token)
	cb := s.onContent
	s.mu.Unlock()
	if cb != nil {
		cb(token)
	}
}

func (s *recordSink) AppendReasoning(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoning = append(s.reasoning, token)
}

func (s *recordSink) AddAttachment(a chat.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, a)
}

func (s *recordSink) SetMetadata(block string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = block
}

func (s *recordSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
}

func (s *recordSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.content, "")
}

func (s *recordSink) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.content))
	copy(out, s.content)
	return out
}

// memStore is an in-memory persist.Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	prefs   map[string]*persist.ModelPreferences
	renames map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		prefs:   make(map[string]*persist.ModelPreferences),
		renames: make(map[string]string),
	}
}

func (m *memStore) ModelPreferences(model string) (*persist.ModelPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[model], nil
}

func (m *memStore) SetModelPreferences(model string, p *persist.ModelPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[model] = p
	return nil
}

func (m *memStore) Attachments(string) ([]chat.Attachment, error)        { return nil, nil }
func (m *memStore) SaveAttachment(string, chat.Attachment) (int64, error) { return 1, nil }
func (m *memStore) DeleteAttachments(string) error                        { return nil }
func (m *memStore) Chats() ([]persist.ChatRecord, error)                  { return nil, nil }
func (m *memStore) SaveChat(persist.ChatRecord) error                     { return nil }

func (m *memStore) RenameChat(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renames[id] = title
	return nil
}

func (m *memStore) CloudModels(string) ([]string, error)                      { return nil, nil }
func (m *memStore) AddCloudModel(string, string) error                        { return nil }
func (m *memStore) ActionParameters(string, string) (map[string]string, error) { return nil, nil }
func (m *memStore) SetActionParameters(string, string, map[string]string) error { return nil }
func (m *memStore) Close() error                                              { return nil }

// =============================================================================
// BACKEND FIXTURE
// =============================================================================

// backend scripts an Ollama endpoint for one test.
type backend struct {
	show ollama.ShowResponse

	// onceResponse answers non-streaming chats without a format schema.
	onceResponse *ollama.ChatResponse

	// titleJSON answers non-streaming chats carrying a format schema.
	titleJSON string

	// streamFrames are NDJSON lines for streaming chats.
	streamFrames []string

	// holdStream blocks after the scripted frames until the client goes
	// away, for cancellation tests.
	holdStream bool

	mu           sync.Mutex
	streamCalls  int
	titlePrompts []string
}

func (b *backend) StreamCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamCalls
}

func (b *backend) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			json.NewEncoder(w).Encode(b.show)
		case "/api/chat":
			var req ollama.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			switch {
			case !req.Stream && len(req.Format) > 0:
				b.mu.Lock()
				if n := len(req.Messages); n > 0 {
					b.titlePrompts = append(b.titlePrompts, req.Messages[n-1].Content)
				}
				b.mu.Unlock()
				resp := ollama.ChatResponse{Done: true}
				resp.Message = ollama.Message{Role: "assistant", Content: b.titleJSON}
				json.NewEncoder(w).Encode(resp)
			case !req.Stream:
				json.NewEncoder(w).Encode(b.onceResponse)
			default:
				b.mu.Lock()
				b.streamCalls++
				b.mu.Unlock()

				w.Header().Set("Content-Type", "application/x-ndjson")
				flusher := w.(http.Flusher)
				for _, frame := range b.streamFrames {
					fmt.Fprintln(w, frame)
					flusher.Flush()
				}
				if b.holdStream {
					<-r.Context().Done()
				}
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, baseURL string, store persist.Store) *Engine {
	t.Helper()
	inst := &instance.Instance{
		ID:      "test",
		Flavour: instance.FlavourExternal,
		BaseURL: baseURL,
	}
	driver, err := instance.NewDriver(inst, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Engine{
		Inst:   inst,
		Driver: driver,
		Store:  store,
		Tools:  tools.NewRegistry(),
	}
}

func userChat(text string) *chat.Chat {
	c := chat.NewChat()
	c.Title = "Untitled" // keep title-gen out of tests that don't want it
	c.Append(chat.NewMessage(chat.RoleUser, text))
	return c
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestSimpleTurnStreamsContent(t *testing.T) {
	b := &backend{
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"message":{"role":"assistant","content":" there"},"done":true,"done_reason":"stop"}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	c := userChat("hi")
	turn := chat.NewTurn(c.ID)
	sink := &recordSink{}

	err := e.RunTurn(context.Background(), c, turn, TurnOptions{Model: "llama3.2:latest"}, sink)
	if err != nil {
		t.Fatal(err)
	}

	tokens := sink.tokens()
	if len(tokens) != 2 || tokens[0] != "Hello" || tokens[1] != " there" {
		t.Errorf("tokens = %v", tokens)
	}
	if turn.Content() != "Hello there" {
		t.Errorf("accumulated = %q", turn.Content())
	}
	if len(sink.attachments) != 0 {
		t.Errorf("attachments = %v, want none", sink.attachments)
	}
	if sink.finished != 1 {
		t.Errorf("Finish called %d times, want 1", sink.finished)
	}
}

func TestThinkingRoutedToReasoningChannel(t *testing.T) {
	b := &backend{
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`,
			`{"message":{"role":"assistant","content":"Answer"},"done":true}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	c := userChat("why?")
	sink := &recordSink{}

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "qwen3:8b"}, sink); err != nil {
		t.Fatal(err)
	}

	if len(sink.reasoning) != 1 || sink.reasoning[0] != "hmm" {
		t.Errorf("reasoning = %v", sink.reasoning)
	}
	if sink.joined() != "Answer" {
		t.Errorf("content = %q", sink.joined())
	}
}

func TestAnswerlessToolReentersStreaming(t *testing.T) {
	b := &backend{
		onceResponse: &ollama.ChatResponse{
			Done: true,
			Message: ollama.Message{
				Role: "assistant",
				ToolCalls: []ollama.ToolCall{{
					Function: ollama.ToolFunction{
						Name:      "get_current_datetime",
						Arguments: map[string]interface{}{"type": "time"},
					},
				}},
			},
		},
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"It is 14:30."},"done":true}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	e.Tools.Register(&tools.DatetimeTool{Now: func() time.Time {
		return time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	}})

	c := userChat("what time is it?")
	turn := chat.NewTurn(c.ID)
	sink := &recordSink{}

	err := e.RunTurn(context.Background(), c, turn, TurnOptions{Model: "llama3.2:latest", Mode: ToolModeAuto}, sink)
	if err != nil {
		t.Fatal(err)
	}

	if len(sink.attachments) != 1 {
		t.Fatalf("attachments = %d, want exactly one per dispatch", len(sink.attachments))
	}
	a := sink.attachments[0]
	if a.Kind != chat.AttachmentTool {
		t.Errorf("attachment kind = %q", a.Kind)
	}
	if !strings.Contains(a.Payload, "| type | time |") {
		t.Errorf("attachment missing argument row:\n%s", a.Payload)
	}
	if !strings.Contains(a.Payload, "## Result\n\n14:30 PM") {
		t.Errorf("attachment missing result:\n%s", a.Payload)
	}

	// The answerless tool forces a second, streaming call.
	if b.StreamCalls() != 1 {
		t.Errorf("streaming calls = %d, want 1", b.StreamCalls())
	}
	if sink.joined() != "It is 14:30." {
		t.Errorf("content = %q", sink.joined())
	}
}

func TestToolWithUserVisibleAnswerSkipsStreaming(t *testing.T) {
	b := &backend{
		onceResponse: &ollama.ChatResponse{
			Done: true,
			Message: ollama.Message{
				Role: "assistant",
				ToolCalls: []ollama.ToolCall{{
					Function: ollama.ToolFunction{Name: "speak", Arguments: map[string]interface{}{}},
				}},
			},
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	e.Tools.Register(&verbatimTool{})

	c := userChat("say it")
	sink := &recordSink{}

	err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m", Mode: ToolModeAuto}, sink)
	if err != nil {
		t.Fatal(err)
	}

	if sink.joined() != "the final word" {
		t.Errorf("content = %q, want the tool's message verbatim", sink.joined())
	}
	if b.StreamCalls() != 0 {
		t.Errorf("streaming calls = %d, want 0", b.StreamCalls())
	}
}

// verbatimTool returns a user-visible message, ending the turn.
type verbatimTool struct{}

func (verbatimTool) Metadata() tools.Metadata {
	return tools.Metadata{Name: "speak", Description: "speaks", Runnable: true, EnabledByDefault: true}
}

func (verbatimTool) Run(context.Context, map[string]any, []chat.Message, chat.Sink) (string, string, error) {
	return "the final word", "spoken", nil
}

func TestTitleGeneration(t *testing.T) {
	b := &backend{
		titleJSON: `{"title":"Explain CRDTs","emoji":"📚"}`,
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"CRDTs are..."},"done":true}`,
		},
	}
	srv := b.serve(t)

	store := newMemStore()
	e := newTestEngine(t, srv.URL, store)

	renamed := make(chan string, 1)
	e.OnTitle = func(chatID, title string) { renamed <- title }

	c := chat.NewChat() // titled "New Chat"
	c.Append(chat.NewMessage(chat.RoleUser, "Explain CRDTs"))
	sink := &recordSink{}

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m"}, sink); err != nil {
		t.Fatal(err)
	}

	select {
	case title := <-renamed:
		if title != "📚 Explain CRDTs" {
			t.Errorf("title = %q, want emoji-prefixed", title)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("title generation never completed")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.renames[c.ID] != "📚 Explain CRDTs" {
		t.Errorf("stored rename = %q", store.renames[c.ID])
	}
}

func TestTitlePromptUsesFirstLineOnly(t *testing.T) {
	b := &backend{
		titleJSON: `{"title":"Explain CRDTs"}`,
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"ok"},"done":true}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	renamed := make(chan string, 1)
	e.OnTitle = func(_, title string) { renamed <- title }

	c := chat.NewChat()
	c.Append(chat.NewMessage(chat.RoleUser, "Explain CRDTs\nhere is a wall of pasted code\nfunc main() {}"))

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m"}, &recordSink{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-renamed:
	case <-time.After(3 * time.Second):
		t.Fatal("title generation never completed")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.titlePrompts) != 1 {
		t.Fatalf("title prompts = %d, want 1", len(b.titlePrompts))
	}
	if !strings.Contains(b.titlePrompts[0], "Explain CRDTs") {
		t.Errorf("prompt missing the opening line:\n%s", b.titlePrompts[0])
	}
	if strings.Contains(b.titlePrompts[0], "pasted code") {
		t.Errorf("prompt carries lines past the first:\n%s", b.titlePrompts[0])
	}
}

func TestTurnWithoutStore(t *testing.T) {
	b := &backend{
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"stateless"},"done":true}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, nil)
	c := userChat("hi")
	sink := &recordSink{}

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m"}, sink); err != nil {
		t.Fatal(err)
	}
	if sink.joined() != "stateless" {
		t.Errorf("content = %q", sink.joined())
	}
}

func TestTitleTruncatedAtThirtyCodepoints(t *testing.T) {
	long := strings.Repeat("a", 40)
	b := &backend{
		titleJSON: `{"title":"` + long + `"}`,
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"ok"},"done":true}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	renamed := make(chan string, 1)
	e.OnTitle = func(_, title string) { renamed <- title }

	c := chat.NewChat()
	c.Append(chat.NewMessage(chat.RoleUser, "hello"))

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m"}, &recordSink{}); err != nil {
		t.Fatal(err)
	}

	select {
	case title := <-renamed:
		want := strings.Repeat("a", 30) + "..."
		if title != want {
			t.Errorf("title = %q, want %q", title, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("title generation never completed")
	}
}

func TestCancellationFinalizesPartialContent(t *testing.T) {
	b := &backend{
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"one"},"done":false}`,
			`{"message":{"role":"assistant","content":"two"},"done":false}`,
		},
		holdStream: true,
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	e.Inst.ShowResponseMetadata = true

	c := userChat("go")
	turn := chat.NewTurn(c.ID)

	sink := &recordSink{}
	sink.onContent = func(token string) {
		if token == "two" {
			turn.Cancel()
		}
	}

	err := e.RunTurn(context.Background(), c, turn, TurnOptions{Model: "m"}, sink)
	if err != nil {
		t.Fatalf("cancellation must not surface an error, got %v", err)
	}

	if got := sink.joined(); got != "onetwo" {
		t.Errorf("partial content = %q", got)
	}
	if sink.metadata != "" {
		t.Error("metadata present on a cancelled turn")
	}
	if sink.finished != 1 {
		t.Errorf("Finish called %d times, want 1", sink.finished)
	}
}

func TestAuthRedirectBecomesLinkAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/show" {
			json.NewEncoder(w).Encode(ollama.ShowResponse{})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized","signin_url":"https://x/login"}`)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL, newMemStore())
	c := userChat("hi")
	turn := chat.NewTurn(c.ID)
	sink := &recordSink{}

	err := e.RunTurn(context.Background(), c, turn, TurnOptions{Model: "m"}, sink)
	if err != nil {
		t.Fatalf("auth failure must be downgraded, got %v", err)
	}

	if len(sink.attachments) != 1 {
		t.Fatalf("attachments = %d, want one link", len(sink.attachments))
	}
	a := sink.attachments[0]
	if a.Kind != chat.AttachmentLink || a.Payload != "https://x/login" {
		t.Errorf("attachment = %+v", a)
	}
	if sink.joined() == "" {
		t.Error("no friendly message delivered")
	}
	if sink.finished != 1 {
		t.Errorf("Finish called %d times, want 1", sink.finished)
	}
}

func TestResponseMetadataBlock(t *testing.T) {
	b := &backend{
		streamFrames: []string{
			`{"message":{"role":"assistant","content":"hi"},"done":true,"done_reason":"stop","eval_count":5,"eval_duration":1000000000,"model":"m"}`,
		},
	}
	srv := b.serve(t)

	e := newTestEngine(t, srv.URL, newMemStore())
	e.Inst.ShowResponseMetadata = true

	c := userChat("hi")
	sink := &recordSink{}

	if err := e.RunTurn(context.Background(), c, chat.NewTurn(c.ID), TurnOptions{Model: "m"}, sink); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(sink.metadata, "done reason: stop") {
		t.Errorf("metadata missing done reason:\n%s", sink.metadata)
	}
	if !strings.Contains(sink.metadata, "response tokens: 5") {
		t.Errorf("metadata missing token count:\n%s", sink.metadata)
	}
	if !strings.Contains(sink.metadata, "tokens per second: 5.0") {
		t.Errorf("metadata missing rate:\n%s", sink.metadata)
	}
}

// =============================================================================
// FRAME INJECTION
// =============================================================================

func TestInjectFramesOrder(t *testing.T) {
	e := newTestEngine(t, "http://127.0.0.1:1", newMemStore())
	e.Inst.ShareName = instance.ShareUsername
	e.Username = "ada"
	e.Now = func() time.Time {
		return time.Date(2025, 3, 1, 14, 30, 0, 0, time.FixedZone("CET", 3600))
	}

	prefs := &persist.ModelPreferences{Card: &persist.CharacterCard{
		Enabled: true,
		Book: &lorebook.Book{Entries: []lorebook.Entry{
			{Keys: []string{"moon"}, Content: "The base is on Mare Imbrium."},
		}},
	}}
	show := &ollama.ShowResponse{System: "You are a helpful assistant."}

	msgs := []ollama.Message{
		ollama.NewSystemMessage("pre-existing frame"),
		ollama.NewUserMessage("tell me about the moon base"),
	}

	out := e.injectFrames(msgs, prefs, show)

	roles := make([]string, len(out))
	for i, m := range out {
		roles[i] = m.Role
	}
	// time, model system, identity, pre-existing system, lorebook, user
	if len(out) != 6 {
		t.Fatalf("frames = %d (%v), want 6", len(out), roles)
	}
	if !strings.HasPrefix(out[0].Content, "Current date and time: 2025-03-01T14:30:00+01:00") {
		t.Errorf("frame 0 = %q, want the time frame", out[0].Content)
	}
	if out[1].Content != "You are a helpful assistant." {
		t.Errorf("frame 1 = %q, want the model system prompt", out[1].Content)
	}
	if !strings.Contains(out[2].Content, "ada") {
		t.Errorf("frame 2 = %q, want the identity frame", out[2].Content)
	}
	if out[3].Content != "pre-existing frame" {
		t.Errorf("frame 3 = %q", out[3].Content)
	}
	if !strings.Contains(out[4].Content, "Mare Imbrium") {
		t.Errorf("frame 4 = %q, want the lorebook block", out[4].Content)
	}
	if out[5].Role != "user" {
		t.Errorf("frame 5 role = %q", out[5].Role)
	}
}

func TestInjectFramesPrepareIsDeterministic(t *testing.T) {
	e := newTestEngine(t, "http://127.0.0.1:1", newMemStore())
	e.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	msgs := []ollama.Message{ollama.NewUserMessage("hello")}

	a := e.injectFrames(msgs, nil, nil)
	b := e.injectFrames(msgs, nil, nil)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			t.Errorf("frame %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEmptyLorebookInjectsNothing(t *testing.T) {
	e := newTestEngine(t, "http://127.0.0.1:1", newMemStore())
	e.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	prefs := &persist.ModelPreferences{Card: &persist.CharacterCard{
		Enabled: true,
		Book:    &lorebook.Book{},
	}}

	out := e.injectFrames([]ollama.Message{ollama.NewUserMessage("hi")}, prefs, nil)
	// Just the time frame and the user message.
	if len(out) != 2 {
		t.Errorf("frames = %d, want 2", len(out))
	}
}
