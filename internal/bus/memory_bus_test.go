// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/commons"
)

func newMemoryBus(t *testing.T) *MemoryBus {
	t.Helper()
	return NewMemoryBus(commons.NewApplicationLogger("development", ""))
}

func TestMemoryBus_DeliversMessagesPublishedBeforeSubscribe(t *testing.T) {
	b := newMemoryBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.Publish(ctx, TopicAudioStream, []byte("one"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, TopicAudioStream, []byte("two"))
	require.NoError(t, err)

	received := make(chan string, 2)
	go func() {
		_ = b.Subscribe(ctx, TopicAudioStream, "g", "c0", func(_ context.Context, msg Message) error {
			received <- string(msg.Payload)
			return nil
		})
	}()

	assert.Equal(t, "one", waitFor(t, received))
	assert.Equal(t, "two", waitFor(t, received))
}

// A handler that fails leaves the message pending so it is redelivered; a
// handler that succeeds is acked exactly once (P9).
func TestMemoryBus_RedeliversOnHandlerError(t *testing.T) {
	b := newMemoryBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.Publish(ctx, TopicCallEnd, []byte("end"))
	require.NoError(t, err)

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, TopicCallEnd, "g", "c0", func(_ context.Context, msg Message) error {
			if attempts.Add(1) == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered after handler error")
	}
	assert.Equal(t, int32(2), attempts.Load())

	// Acked now: no further delivery happens.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMemoryBus_GroupsConsumeIndependently(t *testing.T) {
	b := newMemoryBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := TranscriptTopic("CA42")
	_, err := b.Publish(ctx, topic, []byte("fragment"))
	require.NoError(t, err)

	first := make(chan string, 1)
	second := make(chan string, 1)
	go func() {
		_ = b.Subscribe(ctx, topic, "group-a", "c0", func(_ context.Context, msg Message) error {
			first <- string(msg.Payload)
			return nil
		})
	}()
	go func() {
		_ = b.Subscribe(ctx, topic, "group-b", "c0", func(_ context.Context, msg Message) error {
			second <- string(msg.Payload)
			return nil
		})
	}()

	assert.Equal(t, "fragment", waitFor(t, first))
	assert.Equal(t, "fragment", waitFor(t, second))
}

func TestMemoryBus_ScanTopics(t *testing.T) {
	b := newMemoryBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, TranscriptTopic("CA1"), []byte("x"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, TranscriptTopic("CA2"), []byte("x"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, TopicAudioStream, []byte("x"))
	require.NoError(t, err)

	topics, err := b.ScanTopics(ctx, "transcript.*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"transcript.CA1", "transcript.CA2"}, topics)
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}
