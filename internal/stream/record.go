// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"log"

	"github.com/morganforge/chatwire/internal/model"
	"github.com/morganforge/chatwire/internal/sse"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Kind discriminates the closed set of record shapes a chat stream emits.
type Kind int

const (
	// KindContent carries a text delta.
	KindContent Kind = iota

	// KindMetadata carries the trailing metadata object.
	KindMetadata

	// KindDone is the [DONE] terminal marker.
	KindDone

	// KindError is an explicit error payload from the server.
	KindError
)

// Record is one decoded chat-stream record. The raw frame shape is
// inspected exactly once, here; downstream code switches on Kind only.
type Record struct {
	Kind    Kind
	Content string          // KindContent
	Meta    *model.Metadata // KindMetadata
	ErrMsg  string          // KindError

	// LegacyMeta marks metadata recovered from the stringified legacy
	// format. A structured metadata record always wins over a legacy one.
	LegacyMeta bool
}

// framePayload is the union wire shape of a chat-stream frame.
type framePayload struct {
	Content  *string         `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
	Error    *string         `json:"error"`
}

// =============================================================================
// DECODING
// =============================================================================

// DecodeRecord interprets one frame. Malformed JSON is logged and skipped
// (ok=false); one bad frame must never kill the session.
func DecodeRecord(f sse.Frame) (Record, bool) {
	if f.Done {
		return Record{Kind: KindDone}, true
	}

	var p framePayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		log.Printf("stream: skipping malformed frame: %v", err)
		return Record{}, false
	}

	switch {
	case p.Content != nil:
		return Record{Kind: KindContent, Content: *p.Content}, true
	case p.Error != nil:
		return Record{Kind: KindError, ErrMsg: *p.Error}, true
	case p.Metadata != nil:
		meta, legacy := decodeMetadata(p.Metadata)
		if meta == nil {
			log.Printf("stream: skipping undecodable metadata frame")
			return Record{}, false
		}
		return Record{Kind: KindMetadata, Meta: meta, LegacyMeta: legacy}, true
	default:
		// Empty object or unknown shape; harmless keep-alive.
		return Record{}, false
	}
}

// decodeMetadata extracts metadata from either the structured object form
// or, when structured extraction yields no tool-result fields, the legacy
// stringified form.
func decodeMetadata(raw json.RawMessage) (*model.Metadata, bool) {
	var structured model.Metadata
	structuredErr := json.Unmarshal(raw, &structured)
	if structuredErr == nil && len(structured.ToolResults) > 0 {
		return &structured, false
	}

	// Legacy fallback: the field is a JSON string containing JSON.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		var legacy model.Metadata
		if err := json.Unmarshal([]byte(encoded), &legacy); err == nil {
			return &legacy, true
		}
	}

	if structuredErr == nil {
		// Structured but without tool results (timing-only metadata).
		return &structured, false
	}
	return nil, false
}
