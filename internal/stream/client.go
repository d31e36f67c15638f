// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/morganforge/chatwire/internal/auth"
)

// =============================================================================
// CLIENT CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the hard per-session timeout. On expiry the
	// session behaves as if the transport failed.
	DefaultTimeout = 120 * time.Second

	// DefaultTokenDelay is the inter-token reveal delay. It exists purely
	// to drive progressive-reveal UX and is skippable via Cancel.
	DefaultTokenDelay = 15 * time.Millisecond

	// MaxErrorBody caps how much of a non-2xx body is read for the
	// error message.
	MaxErrorBody = 64 * 1024

	// MaxResponseSize caps the non-streaming (attachment) response body.
	MaxResponseSize = 10 * 1024 * 1024

	// readBufferSize is the chunk size for the streaming read loop.
	readBufferSize = 4096
)

// sharedStreamingClient is used for all chat requests. No client timeout:
// streaming lifetime is controlled via the session context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds construction parameters for a Client.
type Config struct {
	// BaseURL is the chat endpoint root, e.g. "https://api.example.com".
	BaseURL string

	// Tokens supplies the bearer token per request.
	Tokens auth.TokenProvider

	// Timeout is the hard per-session timeout (default: DefaultTimeout).
	Timeout time.Duration

	// TokenDelay is the inter-token reveal delay
	// (default: DefaultTokenDelay; negative disables pacing).
	TokenDelay time.Duration

	// HTTPClient overrides the shared client. Tests use this to point at
	// an httptest server.
	HTTPClient *http.Client
}

// Client opens stream sessions against the chat endpoint.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	timeout    time.Duration
	tokenDelay time.Duration
	httpClient *http.Client
}

// NewClient creates a Client, applying defaults for zero-value fields.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		timeout:    cfg.Timeout,
		tokenDelay: cfg.TokenDelay,
		httpClient: cfg.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.tokenDelay == 0 {
		c.tokenDelay = DefaultTokenDelay
	}
	if c.tokenDelay < 0 {
		c.tokenDelay = 0
	}
	if c.httpClient == nil {
		c.httpClient = sharedStreamingClient
	}
	return c
}

// =============================================================================
// REQUEST SHAPES
// =============================================================================

// SendPayload describes one send. Attachment is a pre-validated payload
// handed to the transport unchanged; its presence selects the
// non-streaming transport mode.
type SendPayload struct {
	ConversationID string
	Message        string
	Attachment     []byte
}

// chatRequest is the wire shape of the request body.
type chatRequest struct {
	Message        string `json:"message"`
	Stream         bool   `json:"stream"`
	ConversationID string `json:"conversationId,omitempty"`
	Attachment     []byte `json:"attachment,omitempty"`
}

// chatResponse is the wire shape of a non-streaming response.
type chatResponse struct {
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// apiErrorBody is the error shape servers return with non-2xx statuses.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// newRequest builds the POST with auth and event-stream headers.
func (c *Client) newRequest(ctx context.Context, payload SendPayload, streaming bool) (*http.Request, error) {
	body := chatRequest{
		Message:        payload.Message,
		Stream:         streaming,
		ConversationID: payload.ConversationID,
		Attachment:     payload.Attachment,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Connection", "keep-alive")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// errorFromResponse turns a non-2xx response into a ServerError without
// attempting to decode the body as a stream.
func errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody))

	var parsed apiErrorBody
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ServerError{Status: resp.StatusCode, Message: msg}
}
