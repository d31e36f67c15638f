// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/morganforge/chatwire/internal/model"
	"github.com/morganforge/chatwire/internal/sse"
)

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status is the lifecycle state of a Session.
type Status int32

const (
	StatusOpen Status = iota
	StatusCancelled
	StatusCompleted
	StatusErrored
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCancelled:
		return "cancelled"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further tokens will be emitted.
func (s Status) Terminal() bool {
	return s != StatusOpen
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one in-flight chat request. Tokens are pulled with Next in
// emission order; metadata is always last, available once Next returns
// io.EOF. Cancel is cooperative and takes effect within one token's delay.
type Session struct {
	requestID string

	ctx       context.Context
	cancelCtx context.CancelFunc

	// paceCtx gates the inter-token reveal delay. Only Cancel ends it:
	// the transport context finishing (completion or timeout) must not
	// break pacing while buffered tokens are still being drained.
	paceCtx    context.Context
	cancelPace context.CancelFunc

	tokens    chan string
	closeOnce sync.Once

	status   atomic.Int32
	produced atomic.Int64
	emitted  atomic.Int64

	limiter *rate.Limiter
	stats   *model.Statistics

	mu   sync.Mutex
	err  error
	meta *model.Metadata
}

// Open starts one logical request/response. The HTTP round trip happens
// before Open returns: a transport failure or a non-2xx status surfaces
// as an error here, without a session. Attachment-bearing payloads select
// the non-streaming mode; the reply is replayed through the same token
// interface.
func (c *Client) Open(ctx context.Context, payload SendPayload) (*Session, error) {
	if c.tokens == nil || c.tokens.Token() == "" {
		return nil, ErrNotConfigured
	}

	streaming := len(payload.Attachment) == 0

	sctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := c.newRequest(sctx, payload, streaming)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Reason: "request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		err := errorFromResponse(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &Session{
		requestID: uuid.New().String(),
		ctx:       sctx,
		cancelCtx: cancel,
		tokens:    make(chan string, 64),
		stats:     model.NewStatistics(),
	}
	s.paceCtx, s.cancelPace = context.WithCancel(context.Background())
	if c.tokenDelay > 0 {
		s.limiter = rate.NewLimiter(rate.Every(c.tokenDelay), 1)
	}

	if streaming {
		go s.readLoop(resp.Body)
	} else {
		go s.replayWhole(resp.Body)
	}
	return s, nil
}

// =============================================================================
// PULL INTERFACE
// =============================================================================

// Next blocks until the next token is available. It returns io.EOF when
// the stream completed normally, ErrCancelled after Cancel, or the
// terminal transport/server error.
func (s *Session) Next() (string, error) {
	if s.Status() == StatusCancelled {
		return "", ErrCancelled
	}

	tok, ok := <-s.tokens
	if !ok {
		return "", s.terminalResult()
	}

	// Progressive-reveal pacing. The wait is bound to the pace context,
	// which only Cancel ends: the read loop completing first must not
	// disturb delivery of the buffered tail, while Cancel still takes
	// effect within one token's delay.
	if s.limiter != nil {
		if err := s.limiter.Wait(s.paceCtx); err != nil {
			return "", ErrCancelled
		}
	}
	if s.Status() == StatusCancelled {
		return "", ErrCancelled
	}

	s.emitted.Add(1)
	return tok, nil
}

// terminalResult maps the final status to Next's error contract. The
// buffer is drained by the time this runs, so pacing can be released.
func (s *Session) terminalResult() error {
	s.cancelPace()
	switch s.Status() {
	case StatusCancelled:
		return ErrCancelled
	case StatusErrored:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	default:
		return io.EOF
	}
}

// Cancel cooperatively stops the session. No further tokens are emitted
// after Cancel returns; the in-flight read is abandoned via the context.
// A session that already completed keeps its terminal status, but Cancel
// still stops delivery of any buffered tail.
func (s *Session) Cancel() {
	s.status.CompareAndSwap(int32(StatusOpen), int32(StatusCancelled))
	s.cancelPace()
	s.cancelCtx()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// RequestID returns the process-unique id of this session.
func (s *Session) RequestID() string {
	return s.requestID
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Metadata returns the trailing metadata record, or nil. Valid once Next
// has returned io.EOF.
func (s *Session) Metadata() *model.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Stats returns timing statistics. Finalized once the session terminates.
func (s *Session) Stats() *model.Statistics {
	return s.stats
}

// EmittedTokens returns the number of tokens delivered through Next.
func (s *Session) EmittedTokens() int {
	return int(s.emitted.Load())
}

// =============================================================================
// STREAMING READ LOOP
// =============================================================================

// readLoop drives the chunked transport, feeding the frame decoder and
// token emitter until the stream terminates.
func (s *Session) readLoop(body io.ReadCloser) {
	defer body.Close()

	dec := sse.NewDecoder()
	em := NewEmitter()
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				s.fail(&TransportError{Reason: "oversized frame", Err: ferr})
				return
			}
			for _, f := range frames {
				if done := s.handleFrame(em, f); done {
					return
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				if f, ok := dec.Flush(); ok {
					if done := s.handleFrame(em, f); done {
						return
					}
				}
				s.finish(em)
				return
			}
			if s.Status() == StatusCancelled || errors.Is(err, context.Canceled) {
				s.closeTokens()
				return
			}
			reason := "connection lost"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timed out"
			}
			s.fail(&TransportError{Reason: reason, Err: err})
			return
		}
	}
}

// handleFrame decodes and dispatches one frame. Returns true when the
// session reached a terminal state.
func (s *Session) handleFrame(em *Emitter, f sse.Frame) bool {
	rec, ok := DecodeRecord(f)
	if !ok {
		return false
	}

	if rec.Kind == KindError {
		s.fail(&ServerError{Message: rec.ErrMsg})
		return true
	}

	for _, tok := range em.Push(rec) {
		if !s.send(tok) {
			return true
		}
	}

	if rec.Kind == KindDone {
		s.finish(em)
		return true
	}
	return false
}

// finish flushes the emitter remainder and completes the session.
func (s *Session) finish(em *Emitter) {
	for _, tok := range em.Flush() {
		if !s.send(tok) {
			return
		}
	}
	s.complete(em.Metadata())
}

// =============================================================================
// NON-STREAMING REPLAY
// =============================================================================

// replayWhole fetches the complete response body and replays the full
// text at the same word-token granularity and delay contract, so
// downstream consumers observe one uniform interface.
func (s *Session) replayWhole(body io.ReadCloser) {
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		if s.Status() == StatusCancelled || errors.Is(err, context.Canceled) {
			s.closeTokens()
			return
		}
		s.fail(&TransportError{Reason: "connection lost", Err: err})
		return
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.fail(&ServerError{Message: "undecodable response body"})
		return
	}

	for _, tok := range SplitAll(resp.Content) {
		if !s.send(tok) {
			return
		}
	}

	var meta *model.Metadata
	if len(resp.Metadata) > 0 {
		meta, _ = decodeMetadata(resp.Metadata)
	}
	s.complete(meta)
}

// =============================================================================
// TERMINATION
// =============================================================================

// send delivers a token to the pull side. Returns false when the session
// context ended first (cancel or timeout).
func (s *Session) send(tok string) bool {
	select {
	case s.tokens <- tok:
		s.stats.RecordFirstToken()
		s.produced.Add(1)
		return true
	case <-s.ctx.Done():
		if s.Status() == StatusCancelled {
			s.closeTokens()
		} else {
			s.fail(&TransportError{Reason: "timed out", Err: s.ctx.Err()})
		}
		return false
	}
}

// complete marks the session completed and publishes metadata.
func (s *Session) complete(meta *model.Metadata) {
	s.mu.Lock()
	s.meta = meta
	s.mu.Unlock()
	s.stats.Finalize(int(s.produced.Load()))
	s.status.CompareAndSwap(int32(StatusOpen), int32(StatusCompleted))
	s.closeTokens()
	s.cancelCtx()
}

// fail marks the session errored with a terminal error.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.stats.Finalize(int(s.produced.Load()))
	s.status.CompareAndSwap(int32(StatusOpen), int32(StatusErrored))
	s.closeTokens()
	s.cancelCtx()
}

// closeTokens closes the token channel exactly once.
func (s *Session) closeTokens() {
	s.closeOnce.Do(func() { close(s.tokens) })
}
