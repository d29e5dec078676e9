// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"context"
	"time"

	"github.com/rapidaai/agent-assist/internal/audio"
	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
)

// callWorker is the single task that exclusively owns one call's buffer
// and connection state. All mutation of its Aggregator and SessionManager
// happens on this goroutine; the only cross-goroutine traffic is the inbox
// channel and the frames channel fed by the parent Worker's bus consumer.
type callWorker struct {
	callID   string
	tenantID string

	cfg    config.AggregatorConfig
	bus    bus.Bus
	vad    *audio.SilenceDetector
	logger commons.Logger

	aggregator *Aggregator
	sessions   *SessionManager

	frames chan audio.Frame
	done   chan struct{}

	lastSeqPublished uint64
}

func newCallWorker(callID, tenantID string, sampleRate int, channels int, cfg config.AggregatorConfig, b bus.Bus, factory ProviderFactory, maxReconnect int, vad *audio.SilenceDetector, logger commons.Logger) *callWorker {
	bytesPerMs := float64(sampleRate) * float64(audio.BytesPerSample) * float64(channels) / 1000.0
	return &callWorker{
		callID:     callID,
		tenantID:   tenantID,
		cfg:        cfg,
		bus:        b,
		vad:        vad,
		logger:     logger.With("callId", callID),
		aggregator: NewAggregator(cfg, bytesPerMs),
		sessions:   NewSessionManager(callID, tenantID, sampleRate, factory, maxReconnect, logger),
		frames:     make(chan audio.Frame, 256),
		done:       make(chan struct{}),
	}
}

// Push enqueues an inbound audio frame for this call. Non-blocking up to the
// channel's buffer; callers must not call Push after Stop.
func (w *callWorker) Push(f audio.Frame) {
	select {
	case w.frames <- f:
	case <-w.done:
	}
}

// run is the call's task loop. It isolates any unhandled panic so one
// misbehaving call never affects another.
func (w *callWorker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("asr: call worker panic, isolating", "recover", r)
		}
	}()

	ticker := time.NewTicker(durationMs(w.cfg.ProcessingTimerMs))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.endCall(context.Background())
			return
		case <-w.done:
			w.endCall(context.Background())
			return
		case f := <-w.frames:
			if w.shouldSkipSilence(f) {
				continue
			}
			w.aggregator.Push(f.Payload, f.DurationMs())
			w.runTick(ctx)
		case <-ticker.C:
			w.runTick(ctx)
		case ev, ok := <-w.sessions.Inbox():
			if !ok {
				continue
			}
			w.publishTranscript(ctx, ev)
		case err := <-w.sessions.Errors():
			// Transport errors recover on the send path; observing them
			// here keeps a silent session from failing invisibly.
			w.logger.Warnw("asr: provider session error observed", "err", err)
		}
	}
}

// shouldSkipSilence decides whether a detected-silent chunk may be skipped
// to avoid wasted API calls, but never if skipping would breach the
// MAX_WAIT_MS ceiling on the next send.
func (w *callWorker) shouldSkipSilence(f audio.Frame) bool {
	if w.vad == nil || !w.vad.IsSilent(f.Payload) {
		return false
	}
	gap := time.Since(w.aggregator.lastContinuousSendAt).Milliseconds()
	wouldBreachCeiling := gap+f.DurationMs() >= w.cfg.MaxWaitMs
	return !wouldBreachCeiling
}

func (w *callWorker) runTick(ctx context.Context) {
	decision := w.aggregator.Tick()
	if !decision.ShouldFlush {
		return
	}
	w.dispatchSend(ctx, decision.Payload, false)
}

// dispatchSend implements the send-gating contract: verify
// readiness at both the protocol and transport level before sending; on
// timeout or a mid-flight CLOSING/CLOSED transition, recover by reopening
// and retrying the same bytes once.
func (w *callWorker) dispatchSend(ctx context.Context, payload []byte, isRetry bool) AudioSendOutcome {
	session, err := w.sessions.Ensure(ctx, w.cfg.KeepAliveInterval())
	if err != nil {
		w.logger.Errorw("asr: ensureSession failed", "err", err)
		return SendOutcomeRejected
	}

	if err := w.sessions.WaitReady(session); err != nil {
		w.logger.Warnw("asr: send blocked, not ready", "err", err)
		return w.recoverSend(ctx, payload, isRetry)
	}

	if session.ReadyState() != StateOpen {
		return w.recoverSend(ctx, payload, isRetry)
	}

	if err := session.Send(payload); err != nil {
		w.logger.Warnw("asr: send rejected", "err", err)
		return w.recoverSend(ctx, payload, isRetry)
	}

	// The send returns as soon as it is dispatched; the aggregator never
	// waits for the provider's reply before its next decision
	// (fire-and-forget).
	w.sessions.RecordSend(len(payload))
	return SendOutcomeSent
}

func (w *callWorker) recoverSend(ctx context.Context, payload []byte, isRetry bool) AudioSendOutcome {
	if isRetry {
		return SendOutcomeRejected
	}
	if _, err := w.sessions.Reopen(ctx, w.cfg.KeepAliveInterval()); err != nil {
		w.logger.Errorw("asr: reopen exhausted, abandoning call", "err", err)
		w.publishAbandoned(ctx)
		return SendOutcomeRejected
	}
	return w.dispatchSend(ctx, payload, true)
}

// publishTranscript applies the empty-transcript-drop policy:
// empty text is dropped unless marked final, in which case it is published
// so downstream seq stays contiguous.
func (w *callWorker) publishTranscript(ctx context.Context, ev TranscriptEvent) {
	if ev.Text == "" && ev.Kind != KindFinal {
		return
	}
	ev.CallID = w.callID
	ev.TenantID = w.tenantID
	ev.Seq = w.nextSeq()
	ev.CreatedAt = time.Now()
	w.publish(ctx, ev)
}

func (w *callWorker) nextSeq() uint64 {
	w.lastSeqPublished++
	return w.lastSeqPublished
}

func (w *callWorker) publish(ctx context.Context, ev TranscriptEvent) {
	payload, err := marshalTranscript(ev)
	if err != nil {
		w.logger.Errorw("asr: marshaling transcript event", "err", err)
		return
	}
	topic := bus.TranscriptTopic(w.callID)
	if _, err := w.bus.Publish(ctx, topic, payload); err != nil {
		// A failed publish is logged and the event is dropped; it is not
		// retried. Audio consumption continues regardless.
		w.logger.Errorw("asr: publishing transcript failed", "topic", topic, "err", err)
	}
}

// publishAbandoned emits the synthetic empty final marker mandated when a
// call's provider session is abandoned after ErrMaxReconnects, so downstream
// consumers are not left waiting on a stream that will never progress.
func (w *callWorker) publishAbandoned(ctx context.Context) {
	w.publish(ctx, TranscriptEvent{
		CallID:    w.callID,
		TenantID:  w.tenantID,
		Seq:       w.nextSeq(),
		Kind:      KindFinal,
		Text:      "",
		CreatedAt: time.Now(),
		Error:     "provider_fatal: max reconnects exhausted",
	})
}

// endCall finishes the provider session cleanly: flush any remaining
// buffered audio above the fallback floor, close, and publish a synthetic
// final marker so downstream consumers observe stream termination.
func (w *callWorker) endCall(ctx context.Context) {
	if decision := w.aggregator.FlushRemainder(); decision.ShouldFlush {
		w.dispatchSend(ctx, decision.Payload, false)
	}
	if err := w.sessions.Close(); err != nil {
		w.logger.Warnw("asr: error closing session on call end", "err", err)
	}
	w.publish(ctx, TranscriptEvent{
		CallID:    w.callID,
		TenantID:  w.tenantID,
		Seq:       w.nextSeq(),
		Kind:      KindFinal,
		Text:      "",
		CreatedAt: time.Now(),
	})
}

// Stop requests the call task to end and clean up; it does not block for
// the flush/close to complete.
func (w *callWorker) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
