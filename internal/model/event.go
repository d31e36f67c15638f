// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Well-known push event types carried by the event bus.
const (
	EventMessageCreated      = "message.created"
	EventMessageDelivered    = "message.delivered"
	EventMessageRead         = "message.read"
	EventTypingStart         = "typing.start"
	EventTypingStop          = "typing.stop"
	EventConversationUpdated = "conversation.updated"

	// EventHeartbeat frames are consumed by the bus client to refresh
	// liveness and are never forwarded to subscribers.
	EventHeartbeat = "heartbeat"
)

// ErrEventShape indicates an event payload did not carry the fields its
// type requires.
var ErrEventShape = errors.New("event payload missing required fields")

// =============================================================================
// EVENT TYPE
// =============================================================================

// Event is one decoded push frame from the event bus. Data is decoded
// exactly once at the bus boundary; consumers use the typed accessors
// below instead of re-inspecting raw shape.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Key returns an identity string used for duplicate suppression across
// reconnects. Events without a payload id fall back to type+timestamp.
func (e *Event) Key() string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Data, &body); err == nil && body.ID != "" {
		return e.Type + "/" + body.ID
	}
	return e.Type + "/" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// =============================================================================
// TYPED PAYLOAD ACCESSORS
// =============================================================================

// messagePayload is the wire shape of a message.created event.
type messagePayload struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
}

// Message decodes a message.created payload into a peer Message.
func (e *Event) Message() (*Message, error) {
	var p messagePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.ConversationKey == "" {
		return nil, ErrEventShape
	}
	return NewPeerMessage(p.ConversationKey, p.ID, p.Text, p.CreatedAt), nil
}

// receiptPayload is the wire shape of delivery/read receipt events.
type receiptPayload struct {
	MessageID       string `json:"message_id"`
	ConversationKey string `json:"conversation_key"`
}

// Receipt decodes a delivery or read receipt, returning the conversation
// key, target message id, and the delivery state the event advances to.
func (e *Event) Receipt() (conversationKey, messageID string, state DeliveryState, err error) {
	var p receiptPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", "", DeliveryNone, err
	}
	if p.MessageID == "" || p.ConversationKey == "" {
		return "", "", DeliveryNone, ErrEventShape
	}
	switch e.Type {
	case EventMessageDelivered:
		return p.ConversationKey, p.MessageID, DeliveryDelivered, nil
	case EventMessageRead:
		return p.ConversationKey, p.MessageID, DeliveryRead, nil
	default:
		return "", "", DeliveryNone, ErrEventShape
	}
}

// typingPayload is the wire shape of typing.start / typing.stop events.
type typingPayload struct {
	ConversationKey string `json:"conversation_key"`
	PeerID          string `json:"peer_id"`
}

// Typing decodes a typing signal, returning the conversation key, the
// peer the signal concerns, and whether typing started.
func (e *Event) Typing() (conversationKey, peerID string, started bool, err error) {
	var p typingPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", "", false, err
	}
	if p.ConversationKey == "" {
		return "", "", false, ErrEventShape
	}
	return p.ConversationKey, p.PeerID, e.Type == EventTypingStart, nil
}
