// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the core chat data types shared by every other
// package: Message, Sender, and ChatSession.
//
// Messages use millisecond-timestamp ids (NextMessageID keeps them unique
// under rapid minting) and carry an optional reasoning channel populated by
// models that stream chain-of-thought deltas alongside content.
package model
