// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// ChatSession is a persisted conversation: a stable id, a human-facing
// title, the full ordered message list, and a creation timestamp in
// milliseconds since the epoch (newest-first listing sorts on it).
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
}

// NewChatSession builds a session with the given id and title, created now.
func NewChatSession(id, title string, messages []Message) ChatSession {
	return ChatSession{
		ID:        id,
		Title:     title,
		Messages:  messages,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// SessionMeta is the lightweight listing view of a session: everything but
// the message bodies.
type SessionMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"createdAt"`
	MessageCount int    `json:"messageCount"`
}

// Meta returns the listing view of s.
func (s *ChatSession) Meta() SessionMeta {
	return SessionMeta{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
	}
}
