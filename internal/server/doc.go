// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat engine to the browser client over HTTP.
//
// Chat sends and regenerations respond as Server-Sent Events: each
// controller event (user_message, placeholder, delta, settled) becomes one
// named SSE event with a JSON payload, relayed as the provider streams.
// Everything else is plain JSON: session CRUD, settings, the model
// catalog, command snippets.
//
// The middleware chain is recovery, request logging, CORS, per-IP rate
// limiting, and a request body cap.
package server
