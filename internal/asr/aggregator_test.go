// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/config"
)

func testConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		InitialBurstMs:        250,
		MinChunkMs:            100,
		MaxWaitMs:             200,
		TimeoutFallbackMinMs:  20,
		MaxChunkMs:            250,
		KeepAlivePeriodMs:     3000,
		ProcessingTimerMs:     100,
		FirstAudioDeadlineMs:  1000,
		MinTimeBetweenSendsMs: 50,
	}
}

// bytesPerMsAt16kMono matches 16kHz mono PCM16: 32 bytes/ms.
const bytesPerMsAt16kMono = 32.0

func chunkBytes(ms int64) []byte {
	return make([]byte, int64(bytesPerMsAt16kMono)*ms)
}

func newTestAggregator(cfg config.AggregatorConfig) (*Aggregator, *time.Time) {
	a := NewAggregator(cfg, bytesPerMsAt16kMono)
	clock := a.bufferCreatedAt
	a.now = func() time.Time { return clock }
	return a, &clock
}

func advance(clock *time.Time, d time.Duration) { *clock = clock.Add(d) }

// The first send fires as soon as the buffered audio reaches the initial
// burst threshold, well before the first-audio deadline.
func TestAggregator_InitialBurst_SendsAtThreshold(t *testing.T) {
	cfg := testConfig()
	a, clock := newTestAggregator(cfg)

	// 20ms carrier chunks until the burst threshold (250ms) is reached.
	var decision FlushDecision
	for i := 0; i < 20; i++ {
		a.Push(chunkBytes(20), 20)
		decision = a.Tick()
		if decision.ShouldFlush {
			break
		}
		advance(clock, 20*time.Millisecond)
	}

	require.True(t, decision.ShouldFlush)
	assert.True(t, a.HasSentInitialChunk())
	// 13 chunks (260ms) are buffered when the threshold is crossed; the send
	// is capped at MaxChunkMs (250ms) and rounded down to a whole-chunk
	// boundary, so 12 chunks (240ms) go out.
	assert.Equal(t, int64(240), decision.Ms)
}

// Even starved of the burst threshold, the deadline forces a flush.
func TestAggregator_InitialBurst_DeadlineForcesPartialFlush(t *testing.T) {
	cfg := testConfig()
	a, clock := newTestAggregator(cfg)

	a.Push(chunkBytes(20), 20)
	decision := a.Tick()
	assert.False(t, decision.ShouldFlush, "below burst threshold and before deadline")

	advance(clock, time.Duration(cfg.FirstAudioDeadlineMs)*time.Millisecond)
	decision = a.Tick()
	require.True(t, decision.ShouldFlush)
	assert.Equal(t, int64(20), decision.Ms)
	assert.True(t, a.HasSentInitialChunk())
}

// Sparse input (one 20ms chunk every 8s) still flushes on every tick once
// MaxWaitMs has elapsed, through the timeout-fallback floor.
func TestAggregator_SparseInput_FallsThroughToTimeoutFloor(t *testing.T) {
	cfg := testConfig()
	a, clock := newTestAggregator(cfg)

	// Satisfy the initial burst first.
	a.Push(chunkBytes(250), 250)
	decision := a.Tick()
	require.True(t, decision.ShouldFlush)

	// Now simulate a sparse carrier: one 20ms chunk arrives every 8s.
	var lastFlushAt time.Time
	maxGap := time.Duration(0)
	for i := 0; i < 5; i++ {
		advance(clock, 8*time.Second)
		a.Push(chunkBytes(20), 20)
		decision = a.Tick()
		require.True(t, decision.ShouldFlush, "sparse input must still flush on the tooLong path")
		if !lastFlushAt.IsZero() {
			gap := clock.Sub(lastFlushAt)
			if gap > maxGap {
				maxGap = gap
			}
		}
		lastFlushAt = *clock
	}
	// The gap is dominated by the 8s injection interval itself (the test's
	// sparse schedule), not by the aggregator. The invariant under test is
	// that every tick at/after MAX_WAIT_MS produces a flush, which the
	// require.True above already enforces on each iteration.
	assert.True(t, decision.Ms >= cfg.TimeoutFallbackMinMs)
}

func TestAggregator_ForceFlushAtMaxChunk(t *testing.T) {
	cfg := testConfig()
	a, clock := newTestAggregator(cfg)

	a.Push(chunkBytes(250), 250)
	require.True(t, a.Tick().ShouldFlush)

	advance(clock, 60*time.Millisecond)
	a.Push(chunkBytes(260), 260) // exceeds MaxChunkMs on its own
	decision := a.Tick()
	require.True(t, decision.ShouldFlush)
	assert.Equal(t, int64(260), decision.Ms)
}

// Buffered duration never exceeds MaxChunkMs plus one inbound chunk before
// a flush fires.
func TestAggregator_BufferNeverExceedsCeiling(t *testing.T) {
	cfg := testConfig()
	a, clock := newTestAggregator(cfg)

	a.Push(chunkBytes(250), 250)
	require.True(t, a.Tick().ShouldFlush)

	for i := 0; i < 50; i++ {
		advance(clock, 20*time.Millisecond)
		a.Push(chunkBytes(20), 20)
		a.Tick()
		assert.LessOrEqual(t, a.BufferedMs(), cfg.MaxChunkMs+20)
	}
}

func TestAggregator_FlushRemainder_BelowFloorIsNoop(t *testing.T) {
	cfg := testConfig()
	a, _ := newTestAggregator(cfg)

	a.Push(chunkBytes(10), 10) // below TimeoutFallbackMinMs (20ms)
	decision := a.FlushRemainder()
	assert.False(t, decision.ShouldFlush)
}

func TestAggregator_FlushRemainder_AboveFloorFlushesAll(t *testing.T) {
	cfg := testConfig()
	a, _ := newTestAggregator(cfg)

	a.Push(chunkBytes(20), 20)
	a.Push(chunkBytes(15), 15)
	decision := a.FlushRemainder()
	require.True(t, decision.ShouldFlush)
	assert.Equal(t, int64(35), decision.Ms)
	assert.Equal(t, int64(0), a.BufferedMs())
}

func TestAggregator_InitialBurst_HoldsBelowThreshold(t *testing.T) {
	cfg := testConfig()
	a, _ := newTestAggregator(cfg)

	// 120ms is below the 250ms initial burst threshold and the deadline has
	// not elapsed, so the first tick must not flush yet.
	a.Push(chunkBytes(120), 120)
	decision := a.Tick()
	require.False(t, decision.ShouldFlush)
	assert.Equal(t, int64(120), a.BufferedMs())
}
