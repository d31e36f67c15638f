// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"testing"

	"github.com/morganforge/chatwire/internal/sse"
)

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name     string
		frame    sse.Frame
		wantOK   bool
		wantKind Kind
	}{
		{
			name:     "content delta",
			frame:    sse.Frame{Data: []byte(`{"content":"hello "}`)},
			wantOK:   true,
			wantKind: KindContent,
		},
		{
			name:     "empty content is still content",
			frame:    sse.Frame{Data: []byte(`{"content":""}`)},
			wantOK:   true,
			wantKind: KindContent,
		},
		{
			name:     "done sentinel",
			frame:    sse.Frame{Done: true},
			wantOK:   true,
			wantKind: KindDone,
		},
		{
			name:     "server error payload",
			frame:    sse.Frame{Data: []byte(`{"error":"model overloaded"}`)},
			wantOK:   true,
			wantKind: KindError,
		},
		{
			name:     "structured metadata",
			frame:    sse.Frame{Data: []byte(`{"metadata":{"confidence":0.93,"model":"m1"}}`)},
			wantOK:   true,
			wantKind: KindMetadata,
		},
		{
			name:   "malformed json is skipped",
			frame:  sse.Frame{Data: []byte(`{"content":`)},
			wantOK: false,
		},
		{
			name:   "unknown shape is skipped",
			frame:  sse.Frame{Data: []byte(`{"ping":1}`)},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := DecodeRecord(tt.frame)
			if ok != tt.wantOK {
				t.Fatalf("DecodeRecord() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && rec.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", rec.Kind, tt.wantKind)
			}
		})
	}
}

func TestDecodeRecord_ContentPreserved(t *testing.T) {
	rec, ok := DecodeRecord(sse.Frame{Data: []byte(`{"content":"  two  spaces "}`)})
	if !ok {
		t.Fatal("DecodeRecord() failed")
	}
	if rec.Content != "  two  spaces " {
		t.Errorf("Content = %q, whitespace was not preserved", rec.Content)
	}
}

func TestDecodeRecord_LegacyMetadata(t *testing.T) {
	// Legacy servers stringify the metadata object.
	frame := sse.Frame{Data: []byte(`{"metadata":"{\"tool_results\":[{\"name\":\"search\",\"output\":\"ok\",\"success\":true}],\"confidence\":0.5}"}`)}

	rec, ok := DecodeRecord(frame)
	if !ok {
		t.Fatal("DecodeRecord() failed on legacy metadata")
	}
	if rec.Kind != KindMetadata {
		t.Fatalf("Kind = %v, want KindMetadata", rec.Kind)
	}
	if !rec.LegacyMeta {
		t.Error("LegacyMeta = false, want true")
	}
	if len(rec.Meta.ToolResults) != 1 || rec.Meta.ToolResults[0].Name != "search" {
		t.Errorf("ToolResults = %+v", rec.Meta.ToolResults)
	}
}

func TestDecodeRecord_StructuredMetadataNotLegacy(t *testing.T) {
	frame := sse.Frame{Data: []byte(`{"metadata":{"tool_results":[{"name":"calc","output":"4","success":true}]}}`)}

	rec, ok := DecodeRecord(frame)
	if !ok {
		t.Fatal("DecodeRecord() failed")
	}
	if rec.LegacyMeta {
		t.Error("structured metadata flagged as legacy")
	}
	if len(rec.Meta.ToolResults) != 1 {
		t.Errorf("ToolResults = %+v", rec.Meta.ToolResults)
	}
}

func TestDecodeRecord_TimingOnlyMetadata(t *testing.T) {
	frame := sse.Frame{Data: []byte(`{"metadata":{"processing_ms":412,"model":"m2"}}`)}

	rec, ok := DecodeRecord(frame)
	if !ok {
		t.Fatal("DecodeRecord() failed")
	}
	if rec.Meta.ProcessingMS != 412 || rec.Meta.Model != "m2" {
		t.Errorf("Meta = %+v", rec.Meta)
	}
}
