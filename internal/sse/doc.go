// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements incremental decoding of text/event-stream bodies
// into discrete frames.
//
// The decoder is push-based: callers feed it arbitrary-length byte chunks
// as they arrive from a live response, and it yields every complete
// "data: ..." frame in arrival order. A line split across read boundaries
// is re-buffered, never dropped, so output is identical regardless of how
// the body was chunked. Both the chat stream session and the event bus
// client decode their transports through this package.
package sse
