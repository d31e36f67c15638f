// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for chatwire.
//
// TOML configuration with built-in defaults, environment variable
// overrides, and validation. Default location: ~/.chatwire/config.toml.
package config
