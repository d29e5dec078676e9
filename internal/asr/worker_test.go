// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/asr"
	"github.com/rapidaai/agent-assist/internal/asr/providers/mock"
	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
)

func fastAggregatorConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		InitialBurstMs:        40,
		MinChunkMs:            20,
		MaxWaitMs:             100,
		TimeoutFallbackMinMs:  10,
		MaxChunkMs:            100,
		KeepAlivePeriodMs:     3000,
		ProcessingTimerMs:     10,
		FirstAudioDeadlineMs:  50,
		MinTimeBetweenSendsMs: 0,
	}
}

func publishChunk(t *testing.T, b bus.Bus, callID string, seq uint64) {
	t.Helper()
	env := map[string]interface{}{
		"callId":      callID,
		"tenantId":    "t1",
		"seq":         seq,
		"sampleRate":  16000,
		"encoding":    "pcm16",
		"channels":    1,
		"payload_b64": base64.StdEncoding.EncodeToString(make([]byte, 640)), // 20ms
		"timestampMs": int64(seq) * 20,
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), bus.TopicAudioStream, payload)
	require.NoError(t, err)
}

type transcriptCollector struct {
	mu     sync.Mutex
	events []asr.TranscriptEvent
}

func (c *transcriptCollector) collect(ctx context.Context, t *testing.T, b bus.Bus, callID string) {
	go func() {
		_ = b.Subscribe(ctx, bus.TranscriptTopic(callID), "collector", "c0", func(_ context.Context, msg bus.Message) error {
			var ev asr.TranscriptEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
			return nil
		})
	}()
}

func (c *transcriptCollector) snapshot() []asr.TranscriptEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]asr.TranscriptEvent(nil), c.events...)
}

// End to end against the mock provider: audio frames off the bus become
// partials then a final, seq is contiguous from 1, and call_end produces
// the empty-final termination marker plus teardown.
func TestWorker_AudioToTranscriptsAndTeardown(t *testing.T) {
	logger := commons.NewApplicationLogger("development", "")
	b := bus.NewMemoryBus(logger)
	factory := mock.NewFactory("hello world", 3)

	worker := asr.NewWorker(b, factory, fastAggregatorConfig(), 3, "asr-test-0", nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	collector := &transcriptCollector{}
	collector.collect(ctx, t, b, "CA1")

	// Steady 20ms chunks; the mock emits a final on its third send.
	for seq := uint64(1); seq <= 30; seq++ {
		publishChunk(t, b, "CA1", seq)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		for _, ev := range collector.snapshot() {
			if ev.Kind == asr.KindFinal && ev.Text == "hello world" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "expected a final transcript from the mock provider")

	assert.Equal(t, 1, worker.ActiveSessionCount())

	// call_end tears the call down and publishes the termination marker.
	_, err := b.Publish(ctx, bus.TopicCallEnd, []byte(`{"callId":"CA1"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events := collector.snapshot()
		if len(events) == 0 {
			return false
		}
		last := events[len(events)-1]
		return last.Kind == asr.KindFinal && last.Text == "" && worker.ActiveSessionCount() == 0
	}, 5*time.Second, 20*time.Millisecond, "expected the empty-final marker and teardown")

	// Published seq is contiguous from 1.
	events := collector.snapshot()
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "CA1", ev.CallID)
	}
}

// Malformed envelopes are dropped without failing the subscription and
// without creating a call worker.
func TestWorker_DropsMalformedAudio(t *testing.T) {
	logger := commons.NewApplicationLogger("development", "")
	b := bus.NewMemoryBus(logger)
	worker := asr.NewWorker(b, mock.NewFactory("", 0), fastAggregatorConfig(), 3, "asr-test-1", nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	_, err := b.Publish(ctx, bus.TopicAudioStream, []byte(`not json`))
	require.NoError(t, err)
	_, err = b.Publish(ctx, bus.TopicAudioStream, []byte(`{"callId":"CA2","payload_b64":"###"}`))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, worker.ActiveSessionCount())
}
