// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/jeranaias/wolfchat/internal/model"

// ===== OUTCOMES =====

// Outcome classifies how a send operation settled.
type Outcome string

const (
	// OutcomeSuccess: stream completed; final message persisted.
	OutcomeSuccess Outcome = "success"
	// OutcomeAborted: user stopped the stream; accumulated text kept
	// in memory, nothing persisted.
	OutcomeAborted Outcome = "aborted"
	// OutcomeErrored: provider or transport failure; error message
	// persisted in the bot slot.
	OutcomeErrored Outcome = "errored"
	// OutcomeBlocked: missing API key; synthetic bot message, no stream.
	OutcomeBlocked Outcome = "blocked"
)

// ===== EVENTS =====

// EventType tags the notifications emitted over the life of one send.
type EventType string

const (
	// EventUserMessage: the composed user message entered the live list.
	EventUserMessage EventType = "user_message"
	// EventPlaceholder: the empty bot placeholder entered the live list.
	EventPlaceholder EventType = "placeholder"
	// EventDelta: one chunk arrived; deltas only, apply to the placeholder.
	EventDelta EventType = "delta"
	// EventSettled: the operation finished; Message holds the final bot
	// message, Outcome says how it ended.
	EventSettled EventType = "settled"
)

// Event is one notification. For EventDelta only the delta fields are
// set and Message is nil; for the other types Message carries the full
// message involved.
type Event struct {
	Type           EventType      `json:"type"`
	Message        *model.Message `json:"message,omitempty"`
	TextDelta      string         `json:"textDelta,omitempty"`
	ReasoningDelta string         `json:"reasoningDelta,omitempty"`
	Outcome        Outcome        `json:"outcome,omitempty"`
}

// Observer receives events synchronously from inside the controller.
// Observers must be fast and must not call back into the controller.
type Observer func(Event)
