// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package api

import (
	"context"
	"sync"
	"time"
)

const seqCacheTTL = time.Second

// seqCache hands out the monotonically next seq per callId from a
// short-lived in-memory counter (valid 1s since its last allocation); once
// stale, the next allocation re-reads max(seq) from the store. The cache is
// per-process; a multi-instance deployment relies on the UPSERT's
// conflict resolution for collisions.
type seqCache struct {
	mu      sync.Mutex
	entries map[string]*seqEntry
}

type seqEntry struct {
	next        uint64
	allocatedAt time.Time
}

func newSeqCache() *seqCache {
	return &seqCache{entries: make(map[string]*seqEntry)}
}

// Next allocates the next seq for callID. fetch is the DB fallback: it must
// return max(seq) currently persisted (0 if none).
func (c *seqCache) Next(ctx context.Context, callID string, fetch func(context.Context) (uint64, error)) (uint64, error) {
	c.mu.Lock()
	entry, ok := c.entries[callID]
	if ok && time.Since(entry.allocatedAt) < seqCacheTTL {
		seq := entry.next
		entry.next++
		entry.allocatedAt = time.Now()
		c.mu.Unlock()
		return seq, nil
	}
	c.mu.Unlock()

	max, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another request may have refreshed the entry while we queried; take
	// the higher of the two so seq never goes backwards.
	entry, ok = c.entries[callID]
	if !ok || entry.next <= max {
		entry = &seqEntry{next: max + 1}
		c.entries[callID] = entry
	}
	seq := entry.next
	entry.next++
	entry.allocatedAt = time.Now()
	return seq, nil
}

// Observe records an externally supplied seq so later auto-assignments
// continue after it rather than colliding with it.
func (c *seqCache) Observe(callID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[callID]
	if !ok || entry.next <= seq {
		c.entries[callID] = &seqEntry{next: seq + 1, allocatedAt: time.Now()}
		return
	}
	entry.allocatedAt = time.Now()
}

// Invalidate drops callID's counter (dispose/call-end path).
func (c *seqCache) Invalidate(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, callID)
}
