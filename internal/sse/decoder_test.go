// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"strings"
	"testing"
)

// feedAll decodes a body in chunks of the given size, including the
// trailing flush.
func feedAll(t *testing.T, body []byte, chunkSize int) []Frame {
	t.Helper()
	dec := NewDecoder()
	var frames []Frame
	for start := 0; start < len(body); start += chunkSize {
		end := start + chunkSize
		if end > len(body) {
			end = len(body)
		}
		fs, err := dec.Feed(body[start:end])
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		frames = append(frames, fs...)
	}
	if f, ok := dec.Flush(); ok {
		frames = append(frames, f)
	}
	return frames
}

func framesEqual(a, b []Frame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Done != b[i].Done || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

// =============================================================================
// CHUNK SPLIT INVARIANCE
// =============================================================================

func TestDecoder_MidLineSplit(t *testing.T) {
	dec := NewDecoder()

	frames, err := dec.Feed([]byte(`data: {"content":"hi`))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("partial line produced %d frames, want 0", len(frames))
	}

	frames, err = dec.Feed([]byte("\"}\n\n"))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if got := string(frames[0].Data); got != `{"content":"hi"}` {
		t.Errorf("frame data = %q, want %q", got, `{"content":"hi"}`)
	}
}

func TestDecoder_AnySplitMatchesWholeBody(t *testing.T) {
	body := []byte("data: {\"content\":\"hello \"}\n" +
		"data: {\"content\":\"there\"}\n" +
		"event: noise\n" +
		": comment line\n" +
		"data: {\"metadata\":{\"confidence\":0.9}}\n" +
		"\n" +
		"data: [DONE]\n")

	whole := feedAll(t, body, len(body))

	for chunkSize := 1; chunkSize <= len(body); chunkSize++ {
		got := feedAll(t, body, chunkSize)
		if !framesEqual(got, whole) {
			t.Fatalf("chunk size %d produced %d frames, whole-body feed produced %d",
				chunkSize, len(got), len(whole))
		}
	}
}

// =============================================================================
// FRAME INTERPRETATION
// =============================================================================

func TestDecoder_DoneSentinel(t *testing.T) {
	dec := NewDecoder()
	frames, err := dec.Feed([]byte("data: [DONE]\n"))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(frames) != 1 || !frames[0].Done {
		t.Fatalf("got %+v, want single Done frame", frames)
	}
	if frames[0].Data != nil {
		t.Errorf("Done frame carries data %q", frames[0].Data)
	}
}

func TestDecoder_IgnoresNonDataFields(t *testing.T) {
	body := []byte("event: message\nid: 42\nretry: 1000\n: keep-alive\n\ndata: {\"content\":\"x\"}\n")
	frames := feedAll(t, body, len(body))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_CRLFLines(t *testing.T) {
	body := []byte("data: {\"content\":\"a\"}\r\ndata: [DONE]\r\n")
	frames := feedAll(t, body, len(body))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if string(frames[0].Data) != `{"content":"a"}` {
		t.Errorf("frame data = %q", frames[0].Data)
	}
	if !frames[1].Done {
		t.Error("second frame should be Done")
	}
}

func TestDecoder_FlushFinalLineWithoutNewline(t *testing.T) {
	dec := NewDecoder()
	if _, err := dec.Feed([]byte(`data: {"content":"tail"}`)); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	f, ok := dec.Flush()
	if !ok {
		t.Fatal("Flush() found no frame")
	}
	if string(f.Data) != `{"content":"tail"}` {
		t.Errorf("flushed data = %q", f.Data)
	}
	if _, ok := dec.Flush(); ok {
		t.Error("second Flush() should find nothing")
	}
}

func TestDecoder_OversizedLine(t *testing.T) {
	dec := NewDecoder()
	huge := []byte("data: " + strings.Repeat("x", MaxFrameSize+1))
	if _, err := dec.Feed(huge); err == nil {
		t.Fatal("Feed() should fail on an oversized unbounded line")
	}
	if dec.Buffered() != 0 {
		t.Error("buffer should be discarded after the oversize error")
	}
}

func TestDecoder_OrderPreserved(t *testing.T) {
	var b strings.Builder
	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`}
	for _, p := range want {
		b.WriteString("data: " + p + "\n")
	}
	frames := feedAll(t, []byte(b.String()), 3)
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if string(f.Data) != want[i] {
			t.Errorf("frame %d = %q, want %q", i, f.Data, want[i])
		}
	}
}
