// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"reflect"
	"strings"
	"testing"

	"github.com/morganforge/chatwire/internal/model"
)

// push feeds deltas as content records and returns all emitted tokens
// plus the flush remainder.
func push(em *Emitter, deltas ...string) []string {
	var tokens []string
	for _, d := range deltas {
		tokens = append(tokens, em.Push(Record{Kind: KindContent, Content: d})...)
	}
	return append(tokens, em.Flush()...)
}

// =============================================================================
// TOKEN RECONSTRUCTION
// =============================================================================

func TestEmitter_Reconstruction(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{"single delta", []string{"hello there"}},
		{"word split across deltas", []string{"hel", "lo ", "there"}},
		{"delta per character", []string{"h", "i", " ", "y", "o", "u"}},
		{"multiple spaces preserved", []string{"a  b", "   c"}},
		{"leading whitespace", []string{"  indented start"}},
		{"trailing whitespace", []string{"ends with space "}},
		{"tabs and newlines", []string{"line one\n\tline", " two"}},
		{"unicode", []string{"héllo wörld ", "日本", "語"}},
		{"empty deltas interleaved", []string{"a", "", "b ", "", "c"}},
		{"only whitespace", []string{"   ", "\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := push(NewEmitter(), tt.deltas...)
			got := strings.Join(tokens, "")
			want := strings.Join(tt.deltas, "")
			if got != want {
				t.Errorf("reassembled %q, want %q", got, want)
			}
		})
	}
}

func TestEmitter_WordGranularity(t *testing.T) {
	tokens := push(NewEmitter(), "hello ", "there")
	want := []string{"hello", " ", "there"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %q, want %q", tokens, want)
	}
}

func TestEmitter_TrailingRunHeldBack(t *testing.T) {
	em := NewEmitter()

	// "wor" may still be extended; nothing before it is complete either
	// until the space arrives.
	tokens := em.Push(Record{Kind: KindContent, Content: "wor"})
	if len(tokens) != 0 {
		t.Fatalf("incomplete run emitted early: %q", tokens)
	}

	tokens = em.Push(Record{Kind: KindContent, Content: "ld "})
	if !reflect.DeepEqual(tokens, []string{"world"}) {
		t.Fatalf("tokens = %q, want [world]", tokens)
	}

	if got := em.Flush(); !reflect.DeepEqual(got, []string{" "}) {
		t.Errorf("Flush() = %q, want the trailing space", got)
	}
}

func TestEmitter_FlushEmpty(t *testing.T) {
	if got := NewEmitter().Flush(); got != nil {
		t.Errorf("Flush() on empty emitter = %q, want nil", got)
	}
}

// =============================================================================
// METADATA CAPTURE
// =============================================================================

func TestEmitter_StructuredMetadataWins(t *testing.T) {
	structured := &model.Metadata{Model: "m-structured"}
	legacy := &model.Metadata{Model: "m-legacy"}

	tests := []struct {
		name  string
		order []Record
		want  string
	}{
		{
			name: "legacy then structured",
			order: []Record{
				{Kind: KindMetadata, Meta: legacy, LegacyMeta: true},
				{Kind: KindMetadata, Meta: structured},
			},
			want: "m-structured",
		},
		{
			name: "structured then legacy",
			order: []Record{
				{Kind: KindMetadata, Meta: structured},
				{Kind: KindMetadata, Meta: legacy, LegacyMeta: true},
			},
			want: "m-structured",
		},
		{
			name: "legacy alone",
			order: []Record{
				{Kind: KindMetadata, Meta: legacy, LegacyMeta: true},
			},
			want: "m-legacy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := NewEmitter()
			for _, rec := range tt.order {
				if tokens := em.Push(rec); len(tokens) != 0 {
					t.Fatalf("metadata record emitted tokens %q", tokens)
				}
			}
			if got := em.Metadata().Model; got != tt.want {
				t.Errorf("Metadata().Model = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmitter_MetadataNilWhenAbsent(t *testing.T) {
	em := NewEmitter()
	push(em, "no metadata here")
	if em.Metadata() != nil {
		t.Error("Metadata() should be nil when the stream never sent one")
	}
}

// =============================================================================
// TERMINAL RECORDS
// =============================================================================

func TestEmitter_DoneAndError(t *testing.T) {
	em := NewEmitter()
	em.Push(Record{Kind: KindDone})
	if !em.Done() {
		t.Error("Done() = false after [DONE]")
	}

	em = NewEmitter()
	em.Push(Record{Kind: KindError, ErrMsg: "overloaded"})
	if em.ServerError() != "overloaded" {
		t.Errorf("ServerError() = %q", em.ServerError())
	}
}

// =============================================================================
// ATTACHMENT REPLAY TOKENIZATION
// =============================================================================

func TestSplitAll(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"hello there!", []string{"hello", " ", "there!"}},
		{"  a  ", []string{"  ", "a", "  "}},
		{"a\nb", []string{"a", "\n", "b"}},
	}

	for _, tt := range tests {
		got := SplitAll(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitAll(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if strings.Join(got, "") != tt.in {
			t.Errorf("SplitAll(%q) does not reassemble losslessly", tt.in)
		}
	}
}

func TestSplitAll_MatchesStreamingTokenization(t *testing.T) {
	text := "the  quick\tbrown fox\n jumps"
	streamed := push(NewEmitter(), text)
	if !reflect.DeepEqual(streamed, SplitAll(text)) {
		t.Errorf("streaming tokens %q differ from replay tokens %q", streamed, SplitAll(text))
	}
}
