// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist provides the persistence adapter between the engine and
// its backing store.
package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley/internal/chat"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("record not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the store at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	// The store is the single serialization point for all writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the schema. Idempotent.
func (s *SQLiteStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS model_preferences (
			model   TEXT PRIMARY KEY,
			picture BLOB,
			voice   TEXT NOT NULL DEFAULT '',
			card    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cloud_models (
			instance_id TEXT NOT NULL,
			model       TEXT NOT NULL,
			PRIMARY KEY (instance_id, model)
		)`,
		`CREATE TABLE IF NOT EXISTS action_parameters (
			instance_id TEXT NOT NULL,
			action      TEXT NOT NULL,
			params      TEXT NOT NULL,
			PRIMARY KEY (instance_id, action)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// MODEL PREFERENCES
// =============================================================================

// ModelPreferences returns the stored preferences, or nil when absent.
func (s *SQLiteStore) ModelPreferences(model string) (*ModelPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var picture []byte
	var voice string
	var card sql.NullString
	err := s.db.QueryRow(
		`SELECT picture, voice, card FROM model_preferences WHERE model = ?`, model,
	).Scan(&picture, &voice, &card)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	prefs := &ModelPreferences{Picture: picture, Voice: voice}
	if card.Valid && card.String != "" {
		var c CharacterCard
		if err := json.Unmarshal([]byte(card.String), &c); err != nil {
			return nil, fmt.Errorf("%w: corrupt character card: %v", ErrDatabaseError, err)
		}
		prefs.Card = &c
	}
	return prefs, nil
}

// SetModelPreferences stores the preferences for a model reference.
func (s *SQLiteStore) SetModelPreferences(model string, p *ModelPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var card any
	if p.Card != nil {
		data, err := json.Marshal(p.Card)
		if err != nil {
			return fmt.Errorf("failed to marshal character card: %w", err)
		}
		card = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO model_preferences (model, picture, voice, card) VALUES (?, ?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET picture=excluded.picture, voice=excluded.voice, card=excluded.card`,
		model, p.Picture, p.Voice, card,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attachments returns the attachments pinned to a message.
func (s *SQLiteStore) Attachments(messageID string) ([]chat.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, name, kind, payload FROM attachments WHERE message_id = ? ORDER BY id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []chat.Attachment
	for rows.Next() {
		var a chat.Attachment
		var kind string
		if err := rows.Scan(&a.ID, &a.Name, &kind, &a.Payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		a.Kind = chat.AttachmentKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAttachment persists an attachment and returns its assigned id.
func (s *SQLiteStore) SaveAttachment(messageID string, a chat.Attachment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO attachments (message_id, name, kind, payload) VALUES (?, ?, ?, ?)`,
		messageID, a.Name, string(a.Kind), a.Payload,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return res.LastInsertId()
}

// DeleteAttachments removes all attachments for a message.
func (s *SQLiteStore) DeleteAttachments(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM attachments WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// CHATS
// =============================================================================

// Chats lists stored chat records, most recently updated first.
func (s *SQLiteStore) Chats() ([]ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, title, updated_at FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var updated int64
		if err := rows.Scan(&rec.ID, &rec.Title, &updated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.UpdatedAt = time.Unix(updated, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveChat inserts or updates a chat record.
func (s *SQLiteStore) SaveChat(rec ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO chats (id, title, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, updated_at=excluded.updated_at`,
		rec.ID, rec.Title, rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// RenameChat updates a chat's display title.
func (s *SQLiteStore) RenameChat(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// CLOUD MODEL ALLOWLIST
// =============================================================================

// CloudModels returns the per-instance cloud model allowlist.
func (s *SQLiteStore) CloudModels(instanceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT model FROM cloud_models WHERE instance_id = ? ORDER BY model`, instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddCloudModel appends a model to the per-instance allowlist. Duplicates
// are ignored.
func (s *SQLiteStore) AddCloudModel(instanceID, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO cloud_models (instance_id, model) VALUES (?, ?)`, instanceID, model,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// ACTION PARAMETERS
// =============================================================================

// ActionParameters returns the stored parameters for a legacy action
// plugin, or an empty map.
func (s *SQLiteStore) ActionParameters(instanceID, action string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(
		`SELECT params FROM action_parameters WHERE instance_id = ? AND action = ?`, instanceID, action,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	params := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("%w: corrupt action parameters: %v", ErrDatabaseError, err)
	}
	return params, nil
}

// SetActionParameters stores parameters for a legacy action plugin.
func (s *SQLiteStore) SetActionParameters(instanceID, action string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal action parameters: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO action_parameters (instance_id, action, params) VALUES (?, ?, ?)
		 ON CONFLICT(instance_id, action) DO UPDATE SET params=excluded.params`,
		instanceID, action, string(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}
