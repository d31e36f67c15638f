// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morganforge/chatwire/internal/auth"
	"github.com/morganforge/chatwire/internal/model"
	"github.com/morganforge/chatwire/internal/sse"
)

// =============================================================================
// CLIENT CONSTANTS
// =============================================================================

const (
	// DefaultReconnectBase is the first reconnect delay.
	DefaultReconnectBase = time.Second

	// DefaultReconnectMax is the reconnect delay ceiling.
	DefaultReconnectMax = 30 * time.Second

	// DefaultHeartbeatTimeout is how long without a heartbeat before the
	// connection is considered dead and torn down for reconnect.
	DefaultHeartbeatTimeout = 90 * time.Second

	// dedupWindow is how many recent event identities are remembered for
	// duplicate suppression across reconnects.
	dedupWindow = 256

	// readBufferSize is the chunk size for the receive loop.
	readBufferSize = 4096
)

// sharedBusClient is the HTTP client for bus connections. No timeout:
// the connection is long-lived by design.
var sharedBusClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// ErrDisconnected is returned by Connect when Disconnect is called while
// the first connection attempt is still in progress.
var ErrDisconnected = errors.New("bus client disconnected")

// =============================================================================
// CONNECTION STATE
// =============================================================================

// State is the connection state of the bus client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Handler receives decoded events of one type, in receipt order.
type Handler func(model.Event)

// Subscription is a stable token identifying one registered handler.
// Registration lifetime is decoupled from handler identity: replacing
// logic means registering a new handler, not re-subscribing on every
// render.
type Subscription struct {
	eventType string
	id        uint64
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds construction parameters for a Client.
type Config struct {
	// URL is the stream endpoint for the persistent GET connection.
	URL string

	// Tokens supplies the bearer token per connection attempt.
	Tokens auth.TokenProvider

	// TokenInQuery sends the token as a query parameter instead of the
	// Authorization header, for transports where headers are unsupported.
	TokenInQuery bool

	// ReconnectBase / ReconnectMax bound the backoff schedule.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// HeartbeatTimeout is the liveness threshold (default 90s).
	HeartbeatTimeout time.Duration

	// HTTPClient overrides the shared client (tests).
	HTTPClient *http.Client
}

// Client is the long-lived event bus connection. One per process.
type Client struct {
	url              string
	tokens           auth.TokenProvider
	tokenInQuery     bool
	reconnectBase    time.Duration
	reconnectMax     time.Duration
	heartbeatTimeout time.Duration
	httpClient       *http.Client

	state atomic.Int32

	mu               sync.Mutex
	handlers         map[string]map[uint64]Handler
	nextSub          uint64
	reconnectAttempt int
	lastHeartbeat    time.Time
	seen             *dedupRing

	// closed suppresses any reconnect scheduled concurrently with a
	// manual Disconnect.
	closed  bool
	cancel  context.CancelFunc
	runDone chan struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// NewClient creates a Client, applying defaults for zero-value fields.
func NewClient(cfg Config) *Client {
	c := &Client{
		url:              cfg.URL,
		tokens:           cfg.Tokens,
		tokenInQuery:     cfg.TokenInQuery,
		reconnectBase:    cfg.ReconnectBase,
		reconnectMax:     cfg.ReconnectMax,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		httpClient:       cfg.HTTPClient,
		handlers:         make(map[string]map[uint64]Handler),
		seen:             newDedupRing(dedupWindow),
		ready:            make(chan struct{}),
	}
	if c.reconnectBase <= 0 {
		c.reconnectBase = DefaultReconnectBase
	}
	if c.reconnectMax <= 0 {
		c.reconnectMax = DefaultReconnectMax
	}
	if c.heartbeatTimeout <= 0 {
		c.heartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.httpClient == nil {
		c.httpClient = sharedBusClient
	}
	return c
}

// =============================================================================
// PUBLIC API
// =============================================================================

// Connect starts the receive loop and blocks until the first successful
// connection, the context ends, or Disconnect is called. The loop keeps
// reconnecting with backoff for the lifetime of the client regardless of
// how Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.runDone != nil {
		c.mu.Unlock()
		return nil // already running
	}
	c.closed = false
	c.ready = make(chan struct{})
	c.readyOnce = sync.Once{}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runDone = make(chan struct{})
	done := c.runDone
	ready := c.ready
	c.mu.Unlock()

	go c.run(runCtx)

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrDisconnected
	}
}

// Disconnect tears the connection down and suppresses any reconnect that
// was scheduled concurrently. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	// Flag first: a connection error firing right now must observe the
	// manual close and skip its reconnect.
	c.closed = true
	cancel := c.cancel
	done := c.runDone
	c.cancel = nil
	c.runDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.state.Store(int32(StateDisconnected))
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return State(c.state.Load()) == StateConnected
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() State {
	return State(c.state.Load())
}

// LastHeartbeat returns when the last heartbeat frame arrived.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// On registers a handler for one event type and returns its token.
func (c *Client) On(eventType string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[uint64]Handler)
	}
	c.handlers[eventType][c.nextSub] = h
	return Subscription{eventType: eventType, id: c.nextSub}
}

// Off removes a previously registered handler. Unknown tokens are no-ops.
func (c *Client) Off(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.handlers[sub.eventType]; m != nil {
		delete(m, sub.id)
	}
}

// =============================================================================
// RECONNECT LOOP
// =============================================================================

// run is the lifetime loop: connect, receive until the connection drops,
// back off, reconnect. Exits only on manual disconnect.
func (c *Client) run(ctx context.Context) {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done != nil {
		defer close(done)
	}
	defer c.state.Store(int32(StateDisconnected))

	for {
		if ctx.Err() != nil {
			return
		}

		c.state.Store(int32(StateConnecting))
		err := c.receiveOnce(ctx)

		c.mu.Lock()
		suppressed := c.closed
		c.mu.Unlock()
		if suppressed || ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.reconnectAttempt++
		attempt := c.reconnectAttempt
		c.mu.Unlock()

		delay := backoffDelay(attempt, c.reconnectBase, c.reconnectMax)
		log.Printf("bus: connection lost (%v), reconnecting in %s (attempt %d)", err, delay, attempt)
		c.state.Store(int32(StateDisconnected))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// receiveOnce opens one connection and receives until it drops.
func (c *Client) receiveOnce(ctx context.Context) error {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	req, err := c.newRequest(connCtx)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bus endpoint returned HTTP %d", resp.StatusCode)
	}

	// Connected: reset the failure counter immediately.
	c.mu.Lock()
	c.reconnectAttempt = 0
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))
	c.readyOnce.Do(func() { close(c.ready) })

	// Heartbeat staleness is the implicit liveness check: a silent dead
	// connection is torn down so the reconnect loop takes over.
	go c.watchHeartbeat(connCtx, cancelConn)

	return c.readFrames(connCtx, resp.Body)
}

// newRequest builds the persistent GET, authenticating via header or,
// where headers are unsupported, a query parameter.
func (c *Client) newRequest(ctx context.Context) (*http.Request, error) {
	endpoint := c.url
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}

	if c.tokenInQuery && token != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid bus URL: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if !c.tokenInQuery && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}

// watchHeartbeat tears down the connection when heartbeats go stale.
func (c *Client) watchHeartbeat(ctx context.Context, teardown context.CancelFunc) {
	interval := c.heartbeatTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastHeartbeat) > c.heartbeatTimeout
			c.mu.Unlock()
			if stale {
				log.Printf("bus: heartbeat stale, dropping connection")
				teardown()
				return
			}
		}
	}
}

// =============================================================================
// RECEIVE & DISPATCH
// =============================================================================

// readFrames decodes the connection body and dispatches events until the
// connection drops.
func (c *Client) readFrames(ctx context.Context, body io.Reader) error {
	dec := sse.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				return ferr
			}
			for _, f := range frames {
				c.handleFrame(f)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// handleFrame decodes one frame into an event and dispatches it.
// Malformed frames are logged and skipped; one bad frame must not drop
// the connection.
func (c *Client) handleFrame(f sse.Frame) {
	if f.Done {
		return // bus streams are unbounded; treat as keep-alive
	}

	var ev model.Event
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		log.Printf("bus: skipping malformed event frame: %v", err)
		return
	}
	if ev.Type == "" {
		return
	}

	// Heartbeats refresh liveness and are never forwarded.
	if ev.Type == model.EventHeartbeat {
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.seen.Seen(ev.Key()) {
		c.mu.Unlock()
		return
	}
	var hs []Handler
	for _, h := range c.handlers[ev.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	// Pure fan-out, in receipt order per type. Handlers run on the
	// receive goroutine; they must not block.
	for _, h := range hs {
		h(ev)
	}
}
