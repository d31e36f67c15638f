// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package convo

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/morganforge/chatwire/internal/model"
)

// =============================================================================
// CACHE CONSTANTS
// =============================================================================

const (
	// DefaultTTL is the staleness threshold for cache entries.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxMessages caps a conversation's in-memory history. When
	// exceeded, the oldest messages are pruned to bound memory.
	DefaultMaxMessages = 1000
)

// ErrStreamInProgress is returned by BeginStream when the conversation
// already has a streaming message; at most one may stream at a time.
var ErrStreamInProgress = errors.New("conversation already has a streaming message")

// =============================================================================
// RENDER SINK
// =============================================================================

// RenderSink is the UI collaborator notified after every mutation with a
// snapshot of the conversation's message list. Snapshots are taken under
// the entry lock but delivered outside it, so when two mutators race on
// the same key their snapshots may arrive in either order; a sink that
// needs the authoritative latest state should re-read with Get.
type RenderSink interface {
	OnMessageListChanged(conversationKey string, messages []*model.Message)
}

// RenderSinkFunc adapts a function to the RenderSink interface.
type RenderSinkFunc func(conversationKey string, messages []*model.Message)

// OnMessageListChanged implements RenderSink.
func (f RenderSinkFunc) OnMessageListChanged(key string, messages []*model.Message) {
	f(key, messages)
}

// =============================================================================
// CACHE
// =============================================================================

// Config holds construction parameters for a Cache.
type Config struct {
	// TTL is the staleness threshold (default: DefaultTTL).
	TTL time.Duration

	// MaxMessages caps per-conversation history (default: DefaultMaxMessages).
	MaxMessages int

	// Sink receives a snapshot after every mutation. Optional.
	Sink RenderSink
}

// Cache is the keyed store of per-conversation message lists. Mutations
// for the same key are serialized by a per-entry lock; cross-key
// concurrency is unrestricted. Readers always get copied snapshots,
// never live state.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl         time.Duration
	maxMessages int
	sink        RenderSink
}

// entry is one conversation's cached state. Owned by the Cache; callers
// never see it directly.
type entry struct {
	mu        sync.Mutex
	key       string
	messages  []*model.Message
	fetchedAt time.Time

	// streamingID is the id of the message currently receiving tokens,
	// empty when none.
	streamingID string

	// cancelled holds message ids whose stream was cancelled; a patch
	// already in flight when Cancel raced it is silently dropped.
	cancelled map[string]struct{}
}

// NewCache creates a Cache, applying defaults for zero-value fields.
func NewCache(cfg Config) *Cache {
	c := &Cache{
		entries:     make(map[string]*entry),
		ttl:         cfg.TTL,
		maxMessages: cfg.MaxMessages,
		sink:        cfg.Sink,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxMessages <= 0 {
		c.maxMessages = DefaultMaxMessages
	}
	return c
}

// entryFor returns the entry for a key, creating it on first access.
func (c *Cache) entryFor(key string) *entry {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e != nil {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.entries[key]; e == nil {
		e = &entry{key: key, cancelled: make(map[string]struct{})}
		c.entries[key] = e
	}
	return e
}

// =============================================================================
// READS
// =============================================================================

// Get returns a snapshot of the conversation's messages plus whether the
// entry is stale. Stale entries are returned immediately; the caller's
// data-loading layer decides whether to refresh (the cache never fetches).
func (c *Cache) Get(key string) ([]*model.Message, bool) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	stale := e.fetchedAt.IsZero() || time.Since(e.fetchedAt) > c.ttl
	return snapshotLocked(e), stale
}

// snapshotLocked copies the message list; caller must hold e.mu.
func snapshotLocked(e *entry) []*model.Message {
	out := make([]*model.Message, len(e.messages))
	for i, m := range e.messages {
		out[i] = m.Snapshot()
	}
	return out
}

// =============================================================================
// LOADER SEEDING
// =============================================================================

// Seed installs history fetched by the conversation loader, replacing
// the current list and refreshing the fetch timestamp.
func (c *Cache) Seed(key string, msgs []*model.Message) {
	e := c.entryFor(key)
	e.mu.Lock()
	e.messages = append([]*model.Message(nil), msgs...)
	e.fetchedAt = time.Now()
	c.pruneLocked(e)
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// =============================================================================
// LOCAL SENDS
// =============================================================================

// OptimisticInsert appends a locally-originated message before server
// confirmation. The message keeps its client-assigned id until
// ConfirmSend reconciles it.
func (c *Cache) OptimisticInsert(key string, msg *model.Message) {
	e := c.entryFor(key)
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	c.pruneLocked(e)
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// ConfirmSend reconciles an optimistic message to the server id its own
// send response returned. External events never rewrite a pending
// message's id; this is the only path that does. If a message with the
// server id already arrived through the bus, the local duplicate is
// dropped in favor of the server copy.
func (c *Cache) ConfirmSend(key, localID, serverID string) {
	e := c.entryFor(key)
	e.mu.Lock()

	if serverID != "" && e.findLocked(serverID) != nil {
		// Server copy already present; server ids win.
		e.removeLocked(localID)
	} else if m := e.findLocked(localID); m != nil {
		if serverID != "" {
			m.ID = serverID
		}
		if model.ValidTransition(m.State, model.StateComplete) {
			m.State = model.StateComplete
		}
		if m.Sender == model.SenderSelf && m.Delivery == model.DeliveryNone {
			m.Delivery = model.DeliverySent
		}
	}

	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// MarkFailed transitions a message to failed with a human-readable
// reason, e.g. after a send error.
func (c *Cache) MarkFailed(key, id, reason string) {
	e := c.entryFor(key)
	e.mu.Lock()
	if m := e.findLocked(id); m != nil && model.ValidTransition(m.State, model.StateFailed) {
		m.State = model.StateFailed
		m.FailReason = reason
		if e.streamingID == id {
			e.streamingID = ""
		}
	}
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// =============================================================================
// STREAM PATCHES
// =============================================================================

// BeginStream appends the streaming placeholder the session will fill in
// and returns its id. At most one message per conversation may stream at
// a time.
func (c *Cache) BeginStream(key string) (string, error) {
	e := c.entryFor(key)
	e.mu.Lock()
	if e.streamingID != "" {
		e.mu.Unlock()
		return "", ErrStreamInProgress
	}
	msg := model.NewStreamingMessage(key)
	e.messages = append(e.messages, msg)
	e.streamingID = msg.ID
	c.pruneLocked(e)
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
	return msg.ID, nil
}

// ApplyStreamPatch appends a token's text to the streaming message in
// place. On terminal=true the message flips to complete with metadata
// and statistics attached. Patches for a cancelled stream are silently
// dropped; that race is expected.
func (c *Cache) ApplyStreamPatch(key, messageID, textDelta string, terminal bool, meta *model.Metadata, stats *model.Statistics) {
	e := c.entryFor(key)
	e.mu.Lock()

	if _, dropped := e.cancelled[messageID]; dropped {
		e.mu.Unlock()
		return
	}
	m := e.findLocked(messageID)
	if m == nil || !m.IsStreaming() {
		e.mu.Unlock()
		return
	}

	if textDelta != "" {
		m.AppendText(textDelta)
	}
	if terminal {
		m.FinalizeStream(meta, stats)
		e.streamingID = ""
	}

	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// CancelStream marks a streaming message cancelled. The placeholder is
// finalized as failed, and any patch still in flight for it is dropped.
func (c *Cache) CancelStream(key, messageID string) {
	e := c.entryFor(key)
	e.mu.Lock()
	e.cancelled[messageID] = struct{}{}
	if m := e.findLocked(messageID); m != nil && m.IsStreaming() {
		m.State = model.StateFailed
		m.FailReason = "cancelled"
	}
	if e.streamingID == messageID {
		e.streamingID = ""
	}
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// =============================================================================
// EXTERNAL EVENTS
// =============================================================================

// ApplyExternalEvent merges one bus event into the conversation. Peer
// messages are inserted only if their server id is not already present
// (duplicate suppression, never raised to the caller); receipts update
// only the delivery state, leaving text untouched.
func (c *Cache) ApplyExternalEvent(key string, ev model.Event) {
	switch ev.Type {
	case model.EventMessageCreated:
		msg, err := ev.Message()
		if err != nil {
			log.Printf("convo: skipping malformed %s event: %v", ev.Type, err)
			return
		}
		c.insertPeerMessage(key, msg)

	case model.EventMessageDelivered, model.EventMessageRead:
		_, messageID, state, err := ev.Receipt()
		if err != nil {
			log.Printf("convo: skipping malformed %s event: %v", ev.Type, err)
			return
		}
		c.advanceDelivery(key, messageID, state)

	case model.EventConversationUpdated:
		// Lifecycle change: soft-invalidate so the loader refetches.
		c.Invalidate(key)
	}
}

// insertPeerMessage appends a peer message unless its id already exists.
func (c *Cache) insertPeerMessage(key string, msg *model.Message) {
	e := c.entryFor(key)
	e.mu.Lock()
	if e.findLocked(msg.ID) != nil {
		// Duplicate server id: absorbed, not an error.
		e.mu.Unlock()
		return
	}
	e.messages = append(e.messages, msg)
	c.pruneLocked(e)
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// advanceDelivery moves a message's delivery state forward. Regressions
// (a late "delivered" after "read") are ignored.
func (c *Cache) advanceDelivery(key, messageID string, state model.DeliveryState) {
	e := c.entryFor(key)
	e.mu.Lock()
	m := e.findLocked(messageID)
	if m == nil || !m.Delivery.Advances(state) {
		e.mu.Unlock()
		return
	}
	m.Delivery = state
	snap := snapshotLocked(e)
	e.mu.Unlock()
	c.notify(key, snap)
}

// =============================================================================
// INVALIDATION
// =============================================================================

// Invalidate soft-invalidates one entry: messages stay available but the
// entry reads as stale until the loader seeds fresh history.
func (c *Cache) Invalidate(key string) {
	e := c.entryFor(key)
	e.mu.Lock()
	e.fetchedAt = time.Time{}
	e.mu.Unlock()
}

// ClearAll evicts every entry. The only hard eviction path.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, k := range keys {
		c.notify(k, nil)
	}
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// findLocked returns the message with the given id; caller holds e.mu.
func (e *entry) findLocked(id string) *model.Message {
	for _, m := range e.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// removeLocked deletes the message with the given id; caller holds e.mu.
func (e *entry) removeLocked(id string) {
	for i, m := range e.messages {
		if m.ID == id {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			return
		}
	}
}

// pruneLocked bounds history length; caller holds e.mu.
func (c *Cache) pruneLocked(e *entry) {
	if over := len(e.messages) - c.maxMessages; over > 0 {
		e.messages = append([]*model.Message(nil), e.messages[over:]...)
	}
}

// notify invokes the render sink outside any lock, so sink code may call
// back into the cache freely. The trade-off is that snapshots from
// concurrent mutators of one key are not ordered; see RenderSink.
func (c *Cache) notify(key string, snap []*model.Message) {
	if c.sink != nil {
		c.sink.OnMessageListChanged(key, snap)
	}
}
