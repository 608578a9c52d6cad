// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session persists and queries chat sessions on top of the
// storage layer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/storage"
)

// ErrSessionMissing signals a write against a session id that no longer
// exists (deleted under the caller). Callers treat it as a no-op, not a
// failure.
var ErrSessionMissing = errors.New("session missing")

// DefaultTitle is used when a session is created without a title hint.
const DefaultTitle = "New Chat"

// Repository owns session identity and persistence. It is a thin policy
// layer over the chats table: creation assigns a UUID v4 id, updates are
// fetch-modify-write, and writes against deleted ids degrade to signalled
// no-ops.
type Repository struct {
	store *storage.Store
}

// NewRepository wraps store.
func NewRepository(store *storage.Store) *Repository {
	return &Repository{store: store}
}

// CreateOrUpdate persists messages under id. An empty id creates a new
// session (fresh UUID, titleHint or DefaultTitle) and returns the assigned
// id. A non-empty id replaces that session's messages, and its title too
// when titleHint is non-empty; if the session was deleted in the meantime,
// ErrSessionMissing is returned and nothing is written.
func (r *Repository) CreateOrUpdate(id string, messages []model.Message, titleHint string) (string, error) {
	if id == "" {
		title := titleHint
		if title == "" {
			title = DefaultTitle
		}
		sess := model.NewChatSession(uuid.NewString(), title, model.CloneMessages(messages))
		if err := r.store.PutChat(sess); err != nil {
			return "", err
		}
		return sess.ID, nil
	}

	sess, err := r.store.GetChat(id)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotFound) {
			return "", fmt.Errorf("update %s: %w", id, ErrSessionMissing)
		}
		return "", err
	}
	sess.Messages = model.CloneMessages(messages)
	if titleHint != "" {
		sess.Title = titleHint
	}
	if err := r.store.PutChat(sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// ReplaceMessages overwrites the message list of an existing session.
// Returns ErrSessionMissing when the id has no row.
func (r *Repository) ReplaceMessages(id string, messages []model.Message) error {
	_, err := r.CreateOrUpdate(id, messages, "")
	return err
}

// Get loads one session.
func (r *Repository) Get(id string) (model.ChatSession, error) {
	return r.store.GetChat(id)
}

// Rename sets a session's title.
func (r *Repository) Rename(id, title string) error {
	err := r.store.UpdateChatTitle(id, title)
	if errors.Is(err, storage.ErrChatNotFound) {
		return fmt.Errorf("rename %s: %w", id, ErrSessionMissing)
	}
	return err
}

// Delete removes one session.
func (r *Repository) Delete(id string) error {
	return r.store.DeleteChat(id)
}

// ListAll returns every session, newest first.
func (r *Repository) ListAll() ([]model.ChatSession, error) {
	return r.store.ListChats()
}

// Metas returns the listing view of every session, newest first.
func (r *Repository) Metas() ([]model.SessionMeta, error) {
	sessions, err := r.store.ListChats()
	if err != nil {
		return nil, err
	}
	metas := make([]model.SessionMeta, 0, len(sessions))
	for i := range sessions {
		metas = append(metas, sessions[i].Meta())
	}
	return metas, nil
}

// ClearAll removes every session.
func (r *Repository) ClearAll() error {
	return r.store.ClearChats()
}

// Search returns metas of sessions whose title or message text contains
// query, case-insensitively. An empty query matches nothing.
func (r *Repository) Search(query string) ([]model.SessionMeta, error) {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil, nil
	}
	sessions, err := r.store.ListChats()
	if err != nil {
		return nil, err
	}
	var out []model.SessionMeta
	for i := range sessions {
		if sessionMatches(&sessions[i], query) {
			out = append(out, sessions[i].Meta())
		}
	}
	return out, nil
}

func sessionMatches(sess *model.ChatSession, lowered string) bool {
	if strings.Contains(strings.ToLower(sess.Title), lowered) {
		return true
	}
	for i := range sess.Messages {
		if strings.Contains(strings.ToLower(sess.Messages[i].Text), lowered) {
			return true
		}
	}
	return false
}

// ===== EXPORT =====

// ExportJSON renders one session as indented JSON.
func (r *Repository) ExportJSON(id string) ([]byte, error) {
	sess, err := r.store.GetChat(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(sess, "", "  ")
}

// ExportMarkdown renders one session as a markdown transcript.
func (r *Repository) ExportMarkdown(id string) (string, error) {
	sess, err := r.store.GetChat(id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	fmt.Fprintf(&b, "*Created: %s*\n\n", time.UnixMilli(sess.CreatedAt).Format("2006-01-02 15:04"))
	for i := range sess.Messages {
		msg := &sess.Messages[i]
		switch msg.Sender {
		case model.SenderUser:
			b.WriteString("## You\n\n")
		default:
			b.WriteString("## WolfChat\n\n")
		}
		if msg.Reasoning != "" {
			fmt.Fprintf(&b, "> *Thinking: %s*\n\n", msg.Reasoning)
		}
		b.WriteString(msg.Text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
