// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"fmt"
)

// =============================================================================
// DECODER CONSTANTS
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single buffered line (64KB).
// A stream that exceeds it without producing a newline is misbehaving.
const MaxFrameSize = 64 * 1024

// doneSentinel is the terminal marker payload. It is not JSON.
var doneSentinel = []byte("[DONE]")

// dataPrefix introduces a data field per the event-stream convention.
var dataPrefix = []byte("data:")

// =============================================================================
// FRAME TYPE
// =============================================================================

// Frame is one decoded data unit from an event stream: either the terminal
// [DONE] sentinel or a raw payload for the caller's boundary to interpret.
type Frame struct {
	// Done is true for the [DONE] sentinel; Data is nil in that case.
	Done bool

	// Data is the payload with the "data:" prefix stripped.
	Data []byte
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a growing byte stream into discrete frames. It buffers a
// trailing partial line between Feed calls; output order exactly matches
// the order bytes were fed.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly-arrived bytes and returns every frame completed by
// them. A final line with no trailing newline yet is kept for the next
// call. Non-data lines (event:, id:, retry:, comments) are ignored per
// the event-stream convention. The only error is an unbounded line
// exceeding MaxFrameSize, which discards the buffer.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		frame, ok := parseLine(line)
		if ok {
			frames = append(frames, frame)
		}
	}

	if len(d.buf) > MaxFrameSize {
		d.buf = nil
		return frames, fmt.Errorf("sse: buffered line exceeds %d bytes", MaxFrameSize)
	}
	return frames, nil
}

// Flush returns the frame held in the trailing partial line, if any.
// Call once when the transport reports end-of-stream, since a final
// data line may legally arrive without a trailing newline.
func (d *Decoder) Flush() (Frame, bool) {
	if len(d.buf) == 0 {
		return Frame{}, false
	}
	line := d.buf
	d.buf = nil
	return parseLine(line)
}

// Buffered returns the number of undecoded bytes held between feeds.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// parseLine interprets one complete line. Returns ok=false for blank
// separators and non-data fields.
func parseLine(line []byte) (Frame, bool) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return Frame{}, false
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneSentinel) {
		return Frame{Done: true}, true
	}

	// Copy out of the shared buffer so callers may retain the payload.
	data := make([]byte, len(payload))
	copy(data, payload)
	return Frame{Data: data}, true
}
