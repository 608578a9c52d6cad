// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// ===== SENDER =====

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ===== MESSAGE =====

// Message is a single chat message. IDs are millisecond timestamps taken at
// creation; NextMessageID guarantees uniqueness when two messages are minted
// within the same millisecond.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Reasoning string    `json:"reasoning,omitempty"`
}

// NextMessageID returns a millisecond-timestamp id strictly greater than
// after, so ids stay unique even when messages are minted back to back.
func NextMessageID(after int64) int64 {
	id := time.Now().UnixMilli()
	if id <= after {
		id = after + 1
	}
	return id
}

// NewUserMessage builds a user message with the given id.
func NewUserMessage(id int64, text string) Message {
	return Message{
		ID:        id,
		Text:      text,
		Sender:    SenderUser,
		Timestamp: time.Now(),
	}
}

// NewBotMessage builds a bot message with the given id. Streaming
// placeholders start with empty text and are filled in as chunks arrive.
func NewBotMessage(id int64, text string) Message {
	return Message{
		ID:        id,
		Text:      text,
		Sender:    SenderBot,
		Timestamp: time.Now(),
	}
}

// CloneMessages returns an independent copy of msgs. Mutation always goes
// through a fresh slice so snapshots handed to observers stay stable.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// IndexByID returns the position of the message with the given id, or -1.
func IndexByID(msgs []Message, id int64) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
