// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"unicode"

	"github.com/morganforge/chatwire/internal/model"
)

// =============================================================================
// TOKEN EMITTER
// =============================================================================

// Emitter consumes decoded records in order and coalesces content deltas
// into whitespace-preserving word tokens. Concatenating every emitted
// token (including the Flush remainder) reconstructs the delta text
// exactly.
//
// Emitter is not safe for concurrent use; the session's read loop is its
// only caller.
type Emitter struct {
	pending string
	meta    *model.Metadata

	// metaStructured records that the held metadata came from the
	// structured format, which always wins over the legacy form.
	metaStructured bool

	done   bool
	errMsg string
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Push consumes one record and returns any tokens completed by it.
// The trailing run of a delta is held back until the next delta or Flush,
// since it may still be extended.
func (e *Emitter) Push(rec Record) []string {
	switch rec.Kind {
	case KindContent:
		e.pending += rec.Content
		tokens, rest := splitTokens(e.pending)
		e.pending = rest
		return tokens

	case KindMetadata:
		if rec.LegacyMeta && e.metaStructured {
			return nil
		}
		e.meta = rec.Meta
		e.metaStructured = !rec.LegacyMeta
		return nil

	case KindDone:
		e.done = true
		return nil

	case KindError:
		e.errMsg = rec.ErrMsg
		return nil
	}
	return nil
}

// Flush returns the held trailing run. Call once when the transport
// completes (or the [DONE] sentinel is observed).
func (e *Emitter) Flush() []string {
	if e.pending == "" {
		return nil
	}
	tok := e.pending
	e.pending = ""
	return []string{tok}
}

// Metadata returns the captured trailing metadata, or nil if none was
// observed. Valid only after the stream ended.
func (e *Emitter) Metadata() *model.Metadata {
	return e.meta
}

// Done reports whether the [DONE] sentinel was observed.
func (e *Emitter) Done() bool {
	return e.done
}

// ServerError returns the explicit error payload message, if any.
func (e *Emitter) ServerError() string {
	return e.errMsg
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// splitTokens splits text into alternating word and whitespace runs,
// returning the complete runs and the trailing (possibly extendable) run.
func splitTokens(s string) ([]string, string) {
	runs := splitRuns(s)
	if len(runs) == 0 {
		return nil, ""
	}
	return runs[:len(runs)-1], runs[len(runs)-1]
}

// splitRuns groups text into maximal runs of whitespace or non-whitespace.
// Whitespace is preserved as its own tokens so reassembly is lossless.
func splitRuns(s string) []string {
	var runs []string
	start := 0
	var inSpace bool
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i == 0 {
			inSpace = space
			continue
		}
		if space != inSpace {
			runs = append(runs, s[start:i])
			start = i
			inSpace = space
		}
	}
	if start < len(s) {
		runs = append(runs, s[start:])
	}
	return runs
}

// SplitAll fully tokenizes text with no held-back remainder. Used by the
// non-streaming attachment path to replay a complete reply through the
// same token granularity.
func SplitAll(s string) []string {
	return splitRuns(s)
}
