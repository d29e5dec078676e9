// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package api

import (
	"sort"
	"sync"
	"time"

	"github.com/rapidaai/agent-assist/internal/sse"
)

const reorderHold = 250 * time.Millisecond

// reorderBuffer enforces the SSE ordering contract: transcript_line
// events within a callId are emitted in non-decreasing seq. An out-of-order
// arrival is held up to 250ms waiting for the gap to fill; when the hold
// expires, everything pending is flushed in seq order and the gap
// expectation is dropped.
type reorderBuffer struct {
	emit func(sse.Event)

	mu    sync.Mutex
	calls map[string]*callOrder
}

type callOrder struct {
	lastEmitted uint64
	pending     map[uint64]sse.Event
	flushTimer  *time.Timer
}

func newReorderBuffer(emit func(sse.Event)) *reorderBuffer {
	return &reorderBuffer{emit: emit, calls: make(map[string]*callOrder)}
}

// Offer hands one transcript_line event to the buffer. In-order events pass
// straight through (plus any pending events they unblock); out-of-order
// events are held behind the 250ms flush timer.
func (b *reorderBuffer) Offer(callID string, seq uint64, ev sse.Event) {
	b.mu.Lock()

	co, ok := b.calls[callID]
	if !ok {
		co = &callOrder{pending: make(map[uint64]sse.Event)}
		b.calls[callID] = co
	}

	if seq <= co.lastEmitted {
		// Replay of something already emitted; duplicates are suppressed
		// upstream, and a superseding re-ingest still goes out.
		b.mu.Unlock()
		b.emit(ev)
		return
	}

	if seq == co.lastEmitted+1 {
		ready := b.advance(co, seq, ev)
		b.mu.Unlock()
		for _, r := range ready {
			b.emit(r)
		}
		return
	}

	co.pending[seq] = ev
	if co.flushTimer == nil {
		co.flushTimer = time.AfterFunc(reorderHold, func() { b.flush(callID) })
	}
	b.mu.Unlock()
}

// advance emits seq and drains any directly following pending entries.
// Caller holds b.mu.
func (b *reorderBuffer) advance(co *callOrder, seq uint64, ev sse.Event) []sse.Event {
	ready := []sse.Event{ev}
	co.lastEmitted = seq
	for {
		next, ok := co.pending[co.lastEmitted+1]
		if !ok {
			break
		}
		delete(co.pending, co.lastEmitted+1)
		co.lastEmitted++
		ready = append(ready, next)
	}
	if len(co.pending) == 0 && co.flushTimer != nil {
		co.flushTimer.Stop()
		co.flushTimer = nil
	}
	return ready
}

// flush runs when the hold expires: everything pending goes out in seq
// order and lastEmitted jumps past it.
func (b *reorderBuffer) flush(callID string) {
	b.mu.Lock()
	co, ok := b.calls[callID]
	if !ok || len(co.pending) == 0 {
		if ok {
			co.flushTimer = nil
		}
		b.mu.Unlock()
		return
	}

	seqs := make([]uint64, 0, len(co.pending))
	for s := range co.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	events := make([]sse.Event, 0, len(seqs))
	for _, s := range seqs {
		events = append(events, co.pending[s])
	}
	co.pending = make(map[uint64]sse.Event)
	co.lastEmitted = seqs[len(seqs)-1]
	co.flushTimer = nil
	b.mu.Unlock()

	for _, ev := range events {
		b.emit(ev)
	}
}

// Remove forgets callID's ordering state (dispose/call-end path).
func (b *reorderBuffer) Remove(callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if co, ok := b.calls[callID]; ok && co.flushTimer != nil {
		co.flushTimer.Stop()
	}
	delete(b.calls, callID)
}
