// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements one logical chat request/response: it opens
// the transport, decodes the chunked event-stream body into records,
// coalesces content deltas into word-granularity tokens for progressive
// reveal, and captures the trailing metadata record.
//
// A Session is pull-based: callers loop on Next until io.EOF and may
// Cancel cooperatively at any point. Attachment-bearing sends bypass
// streaming (the whole response is fetched) but are replayed through the
// same token interface, so consumers observe one contract regardless of
// transport mode.
package stream
