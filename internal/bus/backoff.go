// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import "time"

// =============================================================================
// RECONNECT BACKOFF
// =============================================================================

// backoffDelay returns the reconnect delay for the given consecutive
// failure count (1-based): base, 2*base, 4*base, ... capped at max.
// The counter resets to zero on a successful connect, so the next
// failure starts over at base.
func backoffDelay(failures int, base, max time.Duration) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// =============================================================================
// DUPLICATE SUPPRESSION
// =============================================================================

// dedupRing remembers the identity of recently dispatched events so a
// reconnect replay does not double-deliver. Bounded FIFO eviction.
type dedupRing struct {
	keys []string
	set  map[string]struct{}
	next int
}

// newDedupRing creates a ring remembering up to n event identities.
func newDedupRing(n int) *dedupRing {
	return &dedupRing{
		keys: make([]string, n),
		set:  make(map[string]struct{}, n),
	}
}

// Seen reports whether the key was dispatched recently, recording it
// either way.
func (r *dedupRing) Seen(key string) bool {
	if _, ok := r.set[key]; ok {
		return true
	}
	if old := r.keys[r.next]; old != "" {
		delete(r.set, old)
	}
	r.keys[r.next] = key
	r.set[key] = struct{}{}
	r.next = (r.next + 1) % len(r.keys)
	return false
}
