// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the conversation controller: the live message
// list, session binding, and the per-send state machine
//
//	Idle -> Composing -> AwaitingCredentialCheck -> Streaming -> Settling -> Done
//
// with blocked (missing key), aborted (user stop) and errored branches.
// Regeneration enters at AwaitingCredentialCheck with a truncated history.
//
// Only one stream runs at a time. Starting a new send cancels the current
// one and advances an internal sequence number; callbacks from the
// superseded stream check the sequence and become no-ops, so a stale chunk
// or settlement can never touch the newer conversation state.
//
// Settlement semantics:
//
//   - success persists the full list and kicks off async title generation
//     on a session's first exchange
//   - abort keeps the accumulated partial in memory (or an interruption
//     marker when nothing arrived) and persists nothing
//   - error persists a prefixed, user-readable failure message in the bot
//     slot
package chat
