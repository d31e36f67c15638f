// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Error variables for common session outcomes.
var (
	// ErrCancelled is returned by Next after Cancel was called.
	ErrCancelled = errors.New("stream session cancelled")

	// ErrNotConfigured indicates no bearer token is available.
	ErrNotConfigured = errors.New("no auth token configured")
)

// TransportError is a network-level failure: DNS, timeout, abort, or a
// dropped connection mid-stream. It terminates the session as errored.
type TransportError struct {
	Reason string // human-readable
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Reason, e.Err)
	}
	return "transport error: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a non-2xx response or an explicit error payload. The
// session terminates and the pending message is marked failed.
type ServerError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
	}
	return "server error: " + e.Message
}
