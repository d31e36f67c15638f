// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package typing derives start/stop typing signals from input-change
// notifications. It is a small explicit state machine
// (idle -> typing -> idle) independent of any UI framework lifecycle:
// a start is emitted the first time input becomes non-empty after being
// empty or stopped, and a stop is emitted on explicit Stop or after a
// hard inactivity window, whichever comes first. Stop is idempotent.
package typing
