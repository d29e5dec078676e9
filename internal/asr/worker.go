// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/agent-assist/internal/audio"
	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

const (
	consumerGroup = "asr-worker"
)

// Worker is the top-level C3 component: it consumes audio_stream, routes
// frames to per-call tasks, and tears them down on call_end (which the
// Ingest Gateway also publishes when its idle watchdog fires; the worker
// keeps no idle timer of its own). Each callId maps to exactly one callWorker goroutine for the
// lifetime of the call; no shared mutable state exists between calls beyond
// the Bus adapter and the provider factory (both thread-safe).
type Worker struct {
	bus          bus.Bus
	factory      ProviderFactory
	cfg          config.AggregatorConfig
	maxReconnect int
	consumerName string
	vad          *audio.SilenceDetector
	logger       commons.Logger

	mu    sync.Mutex
	calls map[string]*callWorker
}

// NewWorker constructs the ASR Worker. vad may be nil to disable
// silence-skip (every chunk is then sent).
func NewWorker(b bus.Bus, factory ProviderFactory, cfg config.AggregatorConfig, maxReconnect int, consumerName string, vad *audio.SilenceDetector, logger commons.Logger) *Worker {
	return &Worker{
		bus:          b,
		factory:      factory,
		cfg:          cfg,
		maxReconnect: maxReconnect,
		consumerName: consumerName,
		vad:          vad,
		logger:       logger,
		calls:        make(map[string]*callWorker),
	}
}

// Run subscribes to audio_stream and call_end and blocks until ctx is
// canceled. The two subscriptions run on independent goroutines coordinated
// by an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.bus.Subscribe(gCtx, bus.TopicAudioStream, consumerGroup, w.consumerName, w.handleAudioMessage)
	})
	g.Go(func() error {
		return w.bus.Subscribe(gCtx, bus.TopicCallEnd, consumerGroup, w.consumerName, w.handleCallEndMessage)
	})

	err := g.Wait()
	w.stopAll()
	return err
}

func (w *Worker) handleAudioMessage(ctx context.Context, msg bus.Message) error {
	frame, err := decodeAudioFrame(msg.Payload)
	if err != nil {
		// A malformed envelope is a protocol violation scoped to this one
		// message; it does not fail the subscription.
		w.logger.Warnw("asr: dropping malformed audio frame", "err", err)
		return nil
	}
	call := w.ensureCallWorker(ctx, frame)
	call.Push(frame)
	return nil
}

func (w *Worker) handleCallEndMessage(ctx context.Context, msg bus.Message) error {
	callID, err := decodeCallEnd(msg.Payload)
	if err != nil {
		w.logger.Warnw("asr: dropping malformed call_end message", "err", err)
		return nil
	}
	w.endCall(callID)
	return nil
}

// ensureCallWorker returns the existing task for frame.CallID, or starts a
// fresh one seeded from the frame's sample geometry. This is the only
// mutation point for the calls map and is guarded by mu, but the task
// itself, once started, is the exclusive owner of its own state.
func (w *Worker) ensureCallWorker(ctx context.Context, frame audio.Frame) *callWorker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if call, ok := w.calls[frame.CallID]; ok {
		return call
	}

	call := newCallWorker(frame.CallID, frame.TenantID, frame.SampleRate, frame.Channels, w.cfg, w.bus, w.factory, w.maxReconnect, w.vad, w.logger)
	w.calls[frame.CallID] = call
	utils.Go(ctx, func() { call.run(ctx) })
	return call
}

func (w *Worker) endCall(callID string) {
	w.mu.Lock()
	call, ok := w.calls[callID]
	if ok {
		delete(w.calls, callID)
	}
	w.mu.Unlock()

	if ok {
		call.Stop()
	}
}

func (w *Worker) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, call := range w.calls {
		call.Stop()
		delete(w.calls, id)
	}
}

// ActiveSessionCount reports the number of calls currently being worked,
// the observable behind the active-sessions metric.
func (w *Worker) ActiveSessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}
