// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus maintains the long-lived event-stream connection that
// carries typed push events: message delivery, read receipts, typing
// signals, and conversation lifecycle changes.
//
// The client owns reconnection with exponential backoff, consumes
// heartbeat frames internally as a liveness signal, and suppresses
// duplicate events replayed across a reconnect. It is constructed
// explicitly and passed down; there is no package-level singleton, so
// tests substitute a fake transport by pointing the client at an
// httptest server.
package bus
