// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// =============================================================================
// COORDINATOR CONSTANTS
// =============================================================================

// DefaultAutoStop is the inactivity window after which a typing signal
// stops automatically.
const DefaultAutoStop = 8 * time.Second

// State and event names for the coordinator state machine.
const (
	stateIdle   = "idle"
	stateTyping = "typing"

	eventInput   = "input"
	eventStop    = "stop"
	eventTimeout = "timeout"
)

// =============================================================================
// SIGNALER
// =============================================================================

// Signaler delivers typing signals to peers, typically over the same
// transport the event bus rides on.
type Signaler interface {
	SendTyping(conversationKey string, typing bool) error
}

// SignalerFunc adapts a function to the Signaler interface.
type SignalerFunc func(conversationKey string, typing bool) error

// SendTyping implements Signaler.
func (f SignalerFunc) SendTyping(key string, typing bool) error {
	return f(key, typing)
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator tracks one conversation's typing state. Ephemeral: create
// one per active conversation view and drop it when the view goes away.
type Coordinator struct {
	mu       sync.Mutex
	sm       *fsm.FSM
	signaler Signaler
	key      string
	autoStop time.Duration
	timer    *time.Timer
}

// NewCoordinator creates a Coordinator for one conversation. autoStop <= 0
// selects DefaultAutoStop.
func NewCoordinator(conversationKey string, signaler Signaler, autoStop time.Duration) *Coordinator {
	if autoStop <= 0 {
		autoStop = DefaultAutoStop
	}
	return &Coordinator{
		sm: fsm.NewFSM(
			stateIdle,
			fsm.Events{
				{Name: eventInput, Src: []string{stateIdle}, Dst: stateTyping},
				{Name: eventStop, Src: []string{stateTyping}, Dst: stateIdle},
				{Name: eventTimeout, Src: []string{stateTyping}, Dst: stateIdle},
			},
			fsm.Callbacks{},
		),
		signaler: signaler,
		key:      conversationKey,
		autoStop: autoStop,
	}
}

// OnInputChanged feeds one input-change notification. The first
// non-empty input after idle emits a start signal; further input while
// typing only pushes the auto-stop deadline out.
func (c *Coordinator) OnInputChanged(text string) {
	c.mu.Lock()

	if text == "" || c.sm.Current() == stateTyping {
		if c.sm.Current() == stateTyping && text != "" {
			c.resetTimerLocked()
		}
		c.mu.Unlock()
		return
	}

	if err := c.sm.Event(context.Background(), eventInput); err != nil {
		c.mu.Unlock()
		return
	}
	c.resetTimerLocked()
	c.mu.Unlock()

	c.signal(true)
}

// Stop cancels any pending auto-stop and emits the stop signal at most
// once per start. Calling it while already stopped is a no-op.
func (c *Coordinator) Stop() {
	c.stop(eventStop)
}

// IsTyping reports whether a typing signal is currently active.
func (c *Coordinator) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Current() == stateTyping
}

// =============================================================================
// INTERNAL
// =============================================================================

// stop drives the typing->idle transition for either trigger.
func (c *Coordinator) stop(event string) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if err := c.sm.Event(context.Background(), event); err != nil {
		// Already idle: stop is idempotent.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.signal(false)
}

// resetTimerLocked (re)schedules the auto-stop; caller holds c.mu.
func (c *Coordinator) resetTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.autoStop, func() {
		c.stop(eventTimeout)
	})
}

// signal delivers outside the lock; the signaler may block on I/O.
func (c *Coordinator) signal(typing bool) {
	if c.signaler == nil {
		return
	}
	if err := c.signaler.SendTyping(c.key, typing); err != nil {
		log.Printf("typing: failed to send signal: %v", err)
	}
}
