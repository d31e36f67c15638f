// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth defines the token provider collaborator interface.
//
// The core never refreshes or validates tokens; it reads the current one
// per request or connection attempt and treats it as opaque.
package auth
