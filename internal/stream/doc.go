// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the provider-facing model call.
//
// OpenRouter and Groq use the OpenAI-style streaming chat completions
// protocol: newline-delimited "data:" records terminated by "data: [DONE]",
// each record carrying a content delta and optionally a reasoning delta
// (under reasoning_content or reasoning). Gemini uses a single-shot
// generateContent call whose whole reply is delivered as one chunk.
//
// The engine owns its own accumulators: the Result it returns is the
// authoritative final text/reasoning pair used for settlement, independent
// of whatever the chunk callback did with the deltas.
//
// # Error taxonomy
//
//   - RateLimitError (429) and OverloadedError (capacity) carry messages
//     shown to the user verbatim
//   - APIError carries the provider's own message for other non-2xx codes
//   - user cancellation surfaces as context.Canceled with the partial
//     Result intact
//   - malformed stream records are logged and skipped, never fatal
package stream
