// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"time"

	"github.com/rapidaai/agent-assist/internal/config"
)

// chunk is one inbound PCM fragment as it arrived off the bus, kept whole so
// flush can partition on inbound-chunk boundaries rather than splitting
// mid-sample.
type chunk struct {
	payload []byte
	ms      int64
}

// Aggregator owns the per-call buffer state and implements the tick
// algorithm that converts 20ms inbound carrier chunks into
// provider-friendly sends, bounded by a floor, a ceiling, and a force-flush
// threshold. Aggregator is confined to its owning call's task; it is never
// touched concurrently.
type Aggregator struct {
	cfg        config.AggregatorConfig
	bytesPerMs float64

	chunks               []chunk
	bufferCreatedAt      time.Time
	hasSentInitialChunk  bool
	lastContinuousSendAt time.Time

	// now is overridable in tests so the tick algorithm can be exercised
	// deterministically against wall-clock-sensitive branches.
	now func() time.Time
}

// NewAggregator constructs an Aggregator for one call. bytesPerMs comes from
// the call's declared sample geometry (Frame.BytesPerMs).
func NewAggregator(cfg config.AggregatorConfig, bytesPerMs float64) *Aggregator {
	return &Aggregator{
		cfg:             cfg,
		bytesPerMs:      bytesPerMs,
		bufferCreatedAt: time.Now(),
		now:             time.Now,
	}
}

// Push appends an inbound chunk to the buffer. Call sites should invoke Tick
// immediately after Push, since the tick algorithm is also triggered on
// every inbound frame in addition to its periodic timer.
func (a *Aggregator) Push(payload []byte, ms int64) {
	a.chunks = append(a.chunks, chunk{payload: payload, ms: ms})
}

// totalBufferedMs sums the buffered chunk durations.
func (a *Aggregator) totalBufferedMs() int64 {
	var total int64
	for _, c := range a.chunks {
		total += c.ms
	}
	return total
}

// FlushDecision is the outcome of one Tick: either nothing to send, or a
// payload of exactly msToSend milliseconds (rounded down to the next whole
// inbound chunk boundary) partitioned off the front of the buffer.
type FlushDecision struct {
	ShouldFlush bool
	Payload     []byte
	Ms          int64
}

// Tick runs one pass of the aggregation algorithm. It returns a
// FlushDecision; the caller (the per-call worker task) is responsible for
// actually calling ProviderSession.Send, and never waits for the provider's
// reply before the next Tick (fire-and-forget).
func (a *Aggregator) Tick() FlushDecision {
	now := a.now()
	totalMs := a.totalBufferedMs()

	if !a.hasSentInitialChunk {
		deadlineHit := now.Sub(a.bufferCreatedAt) >= durationMs(a.cfg.FirstAudioDeadlineMs) && totalMs > 0
		if totalMs >= a.cfg.InitialBurstMs || deadlineHit {
			sendMs := totalMs
			if sendMs > a.cfg.MaxChunkMs {
				sendMs = a.cfg.MaxChunkMs
			}
			decision := a.flush(sendMs)
			a.hasSentInitialChunk = true
			a.lastContinuousSendAt = now
			return decision
		}
		return FlushDecision{}
	}

	gap := now.Sub(a.lastContinuousSendAt).Milliseconds()
	tooLong := gap >= a.cfg.MaxWaitMs
	hasOptimal := totalMs >= a.cfg.MinChunkMs
	forceFlush := totalMs >= a.cfg.MaxChunkMs

	flushNow := forceFlush ||
		(tooLong && totalMs >= a.cfg.TimeoutFallbackMinMs) ||
		(gap >= a.cfg.MinTimeBetweenSendsMs && hasOptimal)

	if !flushNow {
		return FlushDecision{}
	}

	payloadMs := a.cfg.MinChunkMs
	if tooLong {
		payloadMs = totalMs
	}
	if payloadMs > totalMs {
		payloadMs = totalMs
	}

	decision := a.flush(payloadMs)
	a.lastContinuousSendAt = now
	return decision
}

// flush partitions msToSend (rounded down to the next whole inbound chunk
// boundary) off the front of the buffer; remaining chunks stay buffered.
func (a *Aggregator) flush(msToSend int64) FlushDecision {
	if msToSend <= 0 || len(a.chunks) == 0 {
		return FlushDecision{}
	}

	var sendMs int64
	var size int
	cut := 0
	for i, c := range a.chunks {
		if sendMs+c.ms > msToSend && sendMs > 0 {
			break
		}
		sendMs += c.ms
		size += len(c.payload)
		cut = i + 1
		if sendMs >= msToSend {
			break
		}
	}
	if cut == 0 {
		return FlushDecision{}
	}

	payload := make([]byte, 0, size)
	for _, c := range a.chunks[:cut] {
		payload = append(payload, c.payload...)
	}
	a.chunks = a.chunks[cut:]

	return FlushDecision{ShouldFlush: true, Payload: payload, Ms: sendMs}
}

// FlushRemainder forces out everything still buffered, used on call end
// to send any tail audio before closing the session. Returns a
// no-op decision if less than TimeoutFallbackMinMs is buffered.
func (a *Aggregator) FlushRemainder() FlushDecision {
	total := a.totalBufferedMs()
	if total < a.cfg.TimeoutFallbackMinMs {
		return FlushDecision{}
	}
	return a.flush(total)
}

// HasSentInitialChunk reports whether the call's burst requirement has been
// satisfied at least once.
func (a *Aggregator) HasSentInitialChunk() bool { return a.hasSentInitialChunk }

// BufferedMs exposes the current buffer depth (never more than MaxChunkMs
// plus the longest inbound chunk between flushes).
func (a *Aggregator) BufferedMs() int64 { return a.totalBufferedMs() }

func durationMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
