// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"os"
	"strings"
	"sync"
)

// =============================================================================
// TOKEN PROVIDER
// =============================================================================

// TokenProvider hands out the current bearer token. An empty string means
// no token is available; callers decide whether that is fatal.
type TokenProvider interface {
	Token() string
}

// =============================================================================
// IMPLEMENTATIONS
// =============================================================================

// Static is a TokenProvider returning a fixed token. Useful for tests and
// for callers that manage token lifetime themselves.
type Static string

// Token implements TokenProvider.
func (s Static) Token() string {
	return string(s)
}

// Env reads the token from an environment variable on every call, so an
// externally rotated token is picked up without restarting.
type Env struct {
	// Var is the environment variable name.
	Var string
}

// Token implements TokenProvider.
func (e Env) Token() string {
	return strings.TrimSpace(os.Getenv(e.Var))
}

// Swappable holds a token that the owning application may replace at any
// time, e.g. after a refresh performed outside this core.
type Swappable struct {
	mu    sync.RWMutex
	token string
}

// NewSwappable creates a Swappable with an initial token.
func NewSwappable(token string) *Swappable {
	return &Swappable{token: token}
}

// Token implements TokenProvider.
func (s *Swappable) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the current token.
func (s *Swappable) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
