// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package sse

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/commons"
)

func newTestHub(max int) *Hub {
	return NewHub(max, commons.NewApplicationLogger("development", ""))
}

func TestHub_BroadcastReachesCallSubscribers(t *testing.T) {
	h := newTestHub(20)

	chA, unregA := h.Register("a", "C1")
	defer unregA()
	chB, unregB := h.Register("b", "C2")
	defer unregB()
	chAll, unregAll := h.Register("all", "")
	defer unregAll()

	h.Broadcast(Event{CallID: "C1", Name: "transcript_line", Data: []byte(`{}`)})

	select {
	case ev := <-chA:
		assert.Equal(t, "transcript_line", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("C1 subscriber did not receive broadcast")
	}
	select {
	case ev := <-chAll:
		assert.Equal(t, "C1", ev.CallID)
	case <-time.After(time.Second):
		t.Fatal("all-calls subscriber did not receive broadcast")
	}
	select {
	case <-chB:
		t.Fatal("C2 subscriber received a C1 event")
	default:
	}
}

// 25 clients against a cap of 20: the 5 oldest are evicted
// (their channels closed) and subsequent broadcasts fan out to 20.
func TestHub_OverflowEvictsOldest(t *testing.T) {
	h := newTestHub(20)

	channels := make([]<-chan Event, 0, 25)
	for i := 0; i < 25; i++ {
		ch, _ := h.Register(fmt.Sprintf("client-%02d", i), "C1")
		channels = append(channels, ch)
	}

	assert.Equal(t, 20, h.ClientCount())

	// The 5 oldest connections saw their channel closed.
	for i := 0; i < 5; i++ {
		select {
		case _, open := <-channels[i]:
			assert.False(t, open, "client %d should have been evicted", i)
		case <-time.After(time.Second):
			t.Fatalf("client %d channel was not closed on eviction", i)
		}
	}

	h.Broadcast(Event{CallID: "C1", Name: "transcript_line", Data: []byte(`{}`)})
	delivered := 0
	for i := 5; i < 25; i++ {
		select {
		case ev, open := <-channels[i]:
			require.True(t, open)
			require.Equal(t, "transcript_line", ev.Name)
			delivered++
		case <-time.After(time.Second):
			t.Fatalf("client %d missed the broadcast", i)
		}
	}
	assert.Equal(t, 20, delivered)
}

func TestHub_SlowClientIsEvictedNotBlocking(t *testing.T) {
	h := newTestHub(20)

	_, unregSlow := h.Register("slow", "C1")
	defer unregSlow()
	fast, unregFast := h.Register("fast", "C1")
	defer unregFast()

	fastCount := make(chan int, 1)
	go func() {
		n := 0
		for range fast {
			n++
			if n == clientBacklog+5 {
				break
			}
		}
		fastCount <- n
	}()

	// Fill the slow client's backlog without ever draining it.
	for i := 0; i < clientBacklog+5; i++ {
		h.Broadcast(Event{CallID: "C1", Name: "transcript_line", Data: []byte(`{}`)})
	}

	// The fast client keeps receiving; the slow one is gone shortly after.
	select {
	case n := <-fastCount:
		assert.Equal(t, clientBacklog+5, n)
	case <-time.After(time.Second):
		t.Fatal("fast client stalled behind the slow one")
	}
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_RemoveIsIdempotent(t *testing.T) {
	h := newTestHub(20)
	_, unregister := h.Register("a", "C1")
	unregister()
	unregister()
	assert.Equal(t, 0, h.ClientCount())
}
