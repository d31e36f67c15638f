// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package convo owns the per-conversation message lists and is the only
// place they are mutated. Three concurrent sources propose changes —
// locally-optimistic sends, the streaming session's token patches, and
// event-bus pushes from peers — and the cache merges them under one
// consistency policy: per-key mutual exclusion, server-id precedence for
// de-duplication, and silent absorption of expected races (late patches
// for cancelled sessions, duplicate events).
//
// Entries carry TTL-based staleness. Stale entries are still returned
// immediately so readers never block; refreshing is the caller's
// data-loading layer's job, seeded back in through Seed.
package convo
