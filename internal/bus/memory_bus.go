// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bus

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rapidaai/agent-assist/internal/commons"
)

const memoryPollInterval = 10 * time.Millisecond

// MemoryBus implements Bus on an in-process topic log. It exists for tests
// and single-process development deployments (PUBSUB_ADAPTER=in-memory); it
// keeps the same at-least-once, consumer-group, drain-pending-then-live
// semantics as RedisBus so components behave identically on either backend.
type MemoryBus struct {
	logger commons.Logger

	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
}

type memoryEntry struct {
	id      uint64
	payload []byte
}

type memoryGroup struct {
	// cursor is the id of the last entry handed to any consumer in the
	// group; entries at or below it are either acked or pending.
	cursor uint64
	// pending holds delivered-but-unacked entries keyed by id, redelivered
	// to the next consumer that drains its backlog.
	pending map[uint64]memoryEntry
}

type memoryTopic struct {
	entries []memoryEntry
	nextID  uint64
	groups  map[string]*memoryGroup
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus(logger commons.Logger) *MemoryBus {
	return &MemoryBus{logger: logger, topics: make(map[string]*memoryTopic)}
}

func (b *MemoryBus) topic(name string) *memoryTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memoryTopic{nextID: 1, groups: make(map[string]*memoryGroup)}
		b.topics[name] = t
	}
	return t
}

func (t *memoryTopic) group(name string) *memoryGroup {
	g, ok := t.groups[name]
	if !ok {
		// First join of a group reads from the oldest position so messages
		// produced before the subscriber arrived are not lost.
		g = &memoryGroup{pending: make(map[uint64]memoryEntry)}
		t.groups[name] = g
	}
	return g
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("bus: publish to %s: %w", topic, commons.ErrClosed)
	}
	t := b.topic(topic)
	entry := memoryEntry{id: t.nextID, payload: append([]byte(nil), payload...)}
	t.nextID++
	t.entries = append(t.entries, entry)
	return fmt.Sprintf("%d", entry.id), nil
}

func (b *MemoryBus) Ack(_ context.Context, topic, group, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var id uint64
	if _, err := fmt.Sscanf(messageID, "%d", &id); err != nil {
		return fmt.Errorf("bus: ack %s/%s: bad message id %q", topic, group, messageID)
	}
	delete(b.topic(topic).group(group).pending, id)
	return nil
}

// Subscribe drains the group's pending backlog, then polls for live
// entries until ctx is canceled. Handler errors leave the entry pending so
// the next pass redelivers it.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry, ok := b.next(topic, group)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(memoryPollInterval):
			}
			continue
		}

		msg := Message{ID: fmt.Sprintf("%d", entry.id), Topic: topic, Payload: entry.payload}
		if err := handler(ctx, msg); err != nil {
			b.logger.Errorw("bus: handler failed, leaving message pending", "topic", topic, "id", msg.ID, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(memoryPollInterval):
			}
			continue
		}
		if err := b.Ack(ctx, topic, group, msg.ID); err != nil {
			b.logger.Errorw("bus: ack failed", "topic", topic, "id", msg.ID, "err", err)
		}
	}
}

// next hands out the oldest pending entry if any, else advances the group
// cursor into the live log, marking the entry pending until acked.
func (b *MemoryBus) next(topic, group string) (memoryEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(topic)
	g := t.group(group)

	var oldest memoryEntry
	found := false
	for _, e := range g.pending {
		if !found || e.id < oldest.id {
			oldest = e
			found = true
		}
	}
	if found {
		return oldest, true
	}

	for _, e := range t.entries {
		if e.id > g.cursor {
			g.cursor = e.id
			g.pending[e.id] = e
			return e, true
		}
	}
	return memoryEntry{}, false
}

// ScanTopics implements StreamScanner over the in-process topic map, so the
// Transcript Consumer's startup recovery sweep works on this backend too.
func (b *MemoryBus) ScanTopics(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for name := range b.topics {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("bus: bad scan pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
