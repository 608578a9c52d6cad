// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the embedded SQLite database for wolfchat.
//
// Three tables back the whole application:
//
//   - settings: key/value pairs with JSON-encoded values (API keys, the
//     selected model, response language, custom model registry)
//   - chats: one row per session, messages stored as a JSON document
//   - commands: user-defined slash-command snippets
//
// Store errors are recoverable: callers keep their in-memory state and may
// retry. A missing chat or command is signalled with a sentinel error
// (ErrChatNotFound, ErrCommandNotFound) usable with errors.Is.
//
// The driver is modernc.org/sqlite (pure Go, no cgo) through database/sql.
package storage
