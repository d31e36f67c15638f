// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderSelf      Sender = "self"
	SenderAssistant Sender = "assistant"
	SenderPeer      Sender = "peer"
	SenderSystem    Sender = "system"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// =============================================================================
// MESSAGE STATE
// =============================================================================

// MessageState is the lifecycle state of a message.
//
// Valid transitions:
//
//	pending -> streaming -> complete
//	pending -> failed
//	streaming -> failed
//	pending -> complete (send acknowledged; self messages never stream)
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateStreaming MessageState = "streaming"
	StateComplete  MessageState = "complete"
	StateFailed    MessageState = "failed"
)

// ValidTransition reports whether a state change is allowed.
func ValidTransition(from, to MessageState) bool {
	switch from {
	case StatePending:
		return to == StateStreaming || to == StateComplete || to == StateFailed
	case StateStreaming:
		return to == StateComplete || to == StateFailed
	default:
		return false
	}
}

// =============================================================================
// DELIVERY STATE
// =============================================================================

// DeliveryState tracks receipt progression for peer-visible messages.
// Progression is monotonic: sent -> delivered -> read.
type DeliveryState string

const (
	DeliveryNone      DeliveryState = ""
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// rank orders delivery states for monotonicity checks.
func (d DeliveryState) rank() int {
	switch d {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving to the given state is a forward step.
func (d DeliveryState) Advances(to DeliveryState) bool {
	return to.rank() > d.rank()
}

// =============================================================================
// METADATA
// =============================================================================

// ToolResult is one tool invocation outcome reported in trailing metadata.
type ToolResult struct {
	Name    string `json:"name"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
}

// Metadata is the trailing record a stream emits once, after all content.
type Metadata struct {
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	ProcessingMS int64        `json:"processing_ms,omitempty"`
	Model        string       `json:"model,omitempty"`
}

// IsZero reports whether no metadata fields were populated.
func (m *Metadata) IsZero() bool {
	return m == nil || (len(m.ToolResults) == 0 && m.Confidence == 0 &&
		m.ProcessingMS == 0 && m.Model == "")
}

// =============================================================================
// STATISTICS
// =============================================================================

// Statistics holds timing and token count information for one streamed reply.
type Statistics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	TokenCount int

	// Derived metrics (computed on Finalize)
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the derived metrics.
func (s *Statistics) Finalize(tokenCount int) {
	s.EndTime = time.Now()
	s.TokenCount = tokenCount
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(tokenCount) / s.TotalDuration.Seconds()
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one chat entry. Text is mutable while State is streaming and
// immutable once finalized; all mutation goes through the conversation cache.
type Message struct {
	// Identity. ID is client-assigned on optimistic insert and replaced by
	// the server id when the send is acknowledged.
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Sender          Sender    `json:"sender"`
	CreatedAt       time.Time `json:"created_at"`

	// Content
	Text string `json:"text"`

	// Lifecycle
	State      MessageState `json:"state"`
	FailReason string       `json:"fail_reason,omitempty"`

	// Receipt progression, relevant only for peer-visible messages.
	Delivery DeliveryState `json:"delivery,omitempty"`

	// Trailing metadata and timing, attached when a stream finalizes.
	Metadata *Metadata   `json:"metadata,omitempty"`
	Stats    *Statistics `json:"-"`

	// streamText accumulates tokens while streaming, merged into Text when
	// the stream finalizes. strings.Builder avoids quadratic allocations.
	streamText strings.Builder
}

// NewLocalMessage creates an optimistic self message with a
// process-unique client id.
func NewLocalMessage(conversationKey, text string) *Message {
	return &Message{
		ID:              NewLocalID(),
		ConversationKey: conversationKey,
		Sender:          SenderSelf,
		Text:            text,
		State:           StatePending,
		CreatedAt:       time.Now(),
	}
}

// NewStreamingMessage creates the assistant placeholder a stream fills in.
func NewStreamingMessage(conversationKey string) *Message {
	return &Message{
		ID:              NewLocalID(),
		ConversationKey: conversationKey,
		Sender:          SenderAssistant,
		State:           StateStreaming,
		CreatedAt:       time.Now(),
	}
}

// NewPeerMessage creates a peer message carrying a server-assigned id.
func NewPeerMessage(conversationKey, serverID, text string, createdAt time.Time) *Message {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &Message{
		ID:              serverID,
		ConversationKey: conversationKey,
		Sender:          SenderPeer,
		Text:            text,
		State:           StateComplete,
		Delivery:        DeliverySent,
		CreatedAt:       createdAt,
	}
}

// NewLocalID returns a process-unique client-assigned id.
func NewLocalID() string {
	return "local_" + uuid.New().String()
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendText appends a token to a streaming message. No-op once finalized.
func (m *Message) AppendText(token string) {
	if m.State == StateStreaming {
		m.streamText.WriteString(token)
	}
}

// FinalizeStream completes streaming, merging accumulated text and
// attaching metadata and statistics.
func (m *Message) FinalizeStream(meta *Metadata, stats *Statistics) {
	if m.State != StateStreaming {
		return
	}
	m.Text = m.streamText.String()
	m.streamText.Reset()
	m.State = StateComplete
	if !meta.IsZero() {
		m.Metadata = meta
	}
	m.Stats = stats
}

// DisplayText returns the text to render (accumulated or final).
func (m *Message) DisplayText() string {
	if m.State == StateStreaming {
		return m.streamText.String()
	}
	return m.Text
}

// IsStreaming reports whether the message is still receiving tokens.
func (m *Message) IsStreaming() bool {
	return m.State == StateStreaming
}

// Snapshot returns a copy safe to hand to readers while the original
// may still be mutated under the cache's lock.
func (m *Message) Snapshot() *Message {
	cp := &Message{
		ID:              m.ID,
		ConversationKey: m.ConversationKey,
		Sender:          m.Sender,
		CreatedAt:       m.CreatedAt,
		Text:            m.DisplayText(),
		State:           m.State,
		FailReason:      m.FailReason,
		Delivery:        m.Delivery,
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		cp.Metadata = &meta
	}
	if m.Stats != nil {
		stats := *m.Stats
		cp.Stats = &stats
	}
	return cp
}
