// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/lorebook"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestModelPreferencesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	prefs := &ModelPreferences{
		Picture: []byte{0x89, 'P', 'N', 'G'},
		Voice:   "en_GB-alba",
		Card: &CharacterCard{
			Name:         "Archivist",
			SystemPrompt: "You are the keeper of the archive.",
			Enabled:      true,
			Book: &lorebook.Book{
				ScanDepth: 50,
				Entries: []lorebook.Entry{
					{Keys: []string{"archive"}, Content: "The archive predates the city."},
				},
			},
		},
	}

	require.NoError(t, s.SetModelPreferences("llama3.2:latest", prefs))

	got, err := s.ModelPreferences("llama3.2:latest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, prefs.Picture, got.Picture)
	assert.Equal(t, prefs.Voice, got.Voice)
	assert.Equal(t, prefs.Card, got.Card)
}

func TestModelPreferencesAbsentIsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ModelPreferences("unknown:latest")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestModelPreferencesOverwrite(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetModelPreferences("m", &ModelPreferences{Voice: "a"}))
	require.NoError(t, s.SetModelPreferences("m", &ModelPreferences{Voice: "b"}))

	got, err := s.ModelPreferences("m")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Voice)
	assert.Nil(t, got.Card)
}

func TestAttachmentLifecycle(t *testing.T) {
	s := openTestStore(t)

	a := chat.NewAttachment("result", chat.AttachmentTool, "## Result\n\n14:30 PM")
	id, err := s.SaveAttachment("msg-1", a)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.SaveAttachment("msg-1", chat.NewAttachment("site", chat.AttachmentLink, "https://x/login"))
	require.NoError(t, err)

	got, err := s.Attachments("msg-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chat.AttachmentTool, got[0].Kind)
	assert.Equal(t, chat.AttachmentLink, got[1].Kind)
	assert.Equal(t, "https://x/login", got[1].Payload)

	require.NoError(t, s.DeleteAttachments("msg-1"))
	got, err = s.Attachments("msg-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChatRecords(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat(ChatRecord{ID: "c1", Title: "New Chat"}))
	require.NoError(t, s.SaveChat(ChatRecord{ID: "c2", Title: "Older"}))

	require.NoError(t, s.RenameChat("c1", "📚 Explain CRDTs"))

	chats, err := s.Chats()
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c1", chats[0].ID) // renamed most recently
	assert.Equal(t, "📚 Explain CRDTs", chats[0].Title)

	assert.ErrorIs(t, s.RenameChat("missing", "x"), ErrNotFound)
}

func TestCloudModelAllowlist(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddCloudModel("inst-1", "gpt-oss:120b"))
	require.NoError(t, s.AddCloudModel("inst-1", "gpt-oss:120b")) // duplicate ignored
	require.NoError(t, s.AddCloudModel("inst-1", "deepseek-v3.1:671b"))
	require.NoError(t, s.AddCloudModel("inst-2", "other"))

	models, err := s.CloudModels("inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek-v3.1:671b", "gpt-oss:120b"}, models)
}

func TestActionParametersRoundTrip(t *testing.T) {
	s := openTestStore(t)

	params := map[string]string{"endpoint": "https://example", "depth": "3"}
	require.NoError(t, s.SetActionParameters("inst-1", "web_search", params))

	got, err := s.ActionParameters("inst-1", "web_search")
	require.NoError(t, err)
	assert.Equal(t, params, got)

	empty, err := s.ActionParameters("inst-1", "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
