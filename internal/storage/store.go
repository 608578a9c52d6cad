// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/jeranaias/wolfchat/internal/model"
)

// ===== ERRORS =====

var (
	// ErrChatNotFound is returned when a chat id has no row.
	ErrChatNotFound = errors.New("chat not found")

	// ErrCommandNotFound is returned when a command name has no row.
	ErrCommandNotFound = errors.New("command not found")
)

// ===== STORE =====

// Store is the embedded SQLite database backing settings, chat sessions and
// command snippets. Chat messages are stored as one JSON document per
// session, mirroring a document store keyed by session id.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	messages   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at DESC);
CREATE TABLE IF NOT EXISTS commands (
	name        TEXT PRIMARY KEY,
	template    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);
`

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL keeps readers unblocked during settlement writes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ===== SETTINGS =====

// GetSetting loads the JSON value stored under key into out. The boolean
// reports whether the key existed.
func (s *Store) GetSetting(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// PutSetting stores v under key as JSON, replacing any previous value.
func (s *Store) PutSetting(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Deleting a missing key is not an error.
func (s *Store) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// ===== CHATS =====

// PutChat inserts or fully replaces the session row for sess.ID.
func (s *Store) PutChat(sess model.ChatSession) error {
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages for chat %s: %w", sess.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO chats (id, title, created_at, messages) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			created_at = excluded.created_at,
			messages = excluded.messages`,
		sess.ID, sess.Title, sess.CreatedAt, string(msgs),
	)
	if err != nil {
		return fmt.Errorf("failed to write chat %s: %w", sess.ID, err)
	}
	return nil
}

// GetChat loads one session. Returns ErrChatNotFound for unknown ids.
func (s *Store) GetChat(id string) (model.ChatSession, error) {
	var sess model.ChatSession
	var raw string
	err := s.db.QueryRow(
		`SELECT id, title, created_at, messages FROM chats WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChatSession{}, fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("failed to read chat %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(raw), &sess.Messages); err != nil {
		return model.ChatSession{}, fmt.Errorf("failed to decode messages for chat %s: %w", id, err)
	}
	return sess, nil
}

// UpdateChatTitle renames a session in place. Returns ErrChatNotFound when
// the id has no row.
func (s *Store) UpdateChatTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to rename chat %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to rename chat %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}
	return nil
}

// DeleteChat removes a session. Deleting a missing id is not an error.
func (s *Store) DeleteChat(id string) error {
	if _, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	return nil
}

// ListChats returns every session, newest first.
func (s *Store) ListChats() ([]model.ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT id, title, created_at, messages FROM chats ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSession
	for rows.Next() {
		var sess model.ChatSession
		var raw string
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &sess.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages for chat %s: %w", sess.ID, err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ClearChats removes every session.
func (s *Store) ClearChats() error {
	if _, err := s.db.Exec(`DELETE FROM chats`); err != nil {
		return fmt.Errorf("failed to clear chats: %w", err)
	}
	return nil
}

// ===== COMMANDS =====

// Command is one stored slash-command snippet.
type Command struct {
	Name        string `json:"name"`
	Template    string `json:"template"`
	Description string `json:"description"`
}

// PutCommand inserts or replaces a command snippet.
func (s *Store) PutCommand(c Command) error {
	_, err := s.db.Exec(
		`INSERT INTO commands (name, template, description) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			template = excluded.template,
			description = excluded.description`,
		c.Name, c.Template, c.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to write command %q: %w", c.Name, err)
	}
	return nil
}

// GetCommand loads one command. Returns ErrCommandNotFound for unknown names.
func (s *Store) GetCommand(name string) (Command, error) {
	var c Command
	err := s.db.QueryRow(
		`SELECT name, template, description FROM commands WHERE name = ?`, name,
	).Scan(&c.Name, &c.Template, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Command{}, fmt.Errorf("command %q: %w", name, ErrCommandNotFound)
	}
	if err != nil {
		return Command{}, fmt.Errorf("failed to read command %q: %w", name, err)
	}
	return c, nil
}

// ListCommands returns every stored command, sorted by name.
func (s *Store) ListCommands() ([]Command, error) {
	rows, err := s.db.Query(
		`SELECT name, template, description FROM commands ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.Name, &c.Template, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCommand removes a command. Deleting a missing name is not an error.
func (s *Store) DeleteCommand(name string) error {
	if _, err := s.db.Exec(`DELETE FROM commands WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete command %q: %w", name, err)
	}
	return nil
}
