// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the streaming,
// event bus, and conversation cache layers: messages, message lifecycle
// states, trailing response metadata, and decoded push events.
//
// The model package has no behavior of its own beyond state transition
// validation; ownership of message lifecycle belongs to the conversation
// cache (package convo).
package model
