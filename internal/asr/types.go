// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by the worker and session lifecycle.
var (
	ErrNotReady      = errors.New("asr: provider session not ready")
	ErrSessionClosed = errors.New("asr: provider session closed")
	ErrMaxReconnects = errors.New("asr: max reconnect attempts exhausted")
	ErrSendTimeout   = errors.New("asr: send readiness wait timed out")
)

// TranscriptKind distinguishes authoritative final text from revisable
// partial text, per the supersede invariant in the data model.
type TranscriptKind string

const (
	KindPartial TranscriptKind = "partial"
	KindFinal   TranscriptKind = "final"
)

// TranscriptEvent is what the ASR Worker republishes onto transcript.<callId>.
type TranscriptEvent struct {
	CallID     string         `json:"callId"`
	TenantID   string         `json:"tenantId"`
	Seq        uint64         `json:"seq"`
	Kind       TranscriptKind `json:"kind"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	StartMs    int64          `json:"startMs"`
	EndMs      int64          `json:"endMs"`
	CreatedAt  time.Time      `json:"createdAt"`
	// Error is set on the synthetic final marker published when a provider
	// session is abandoned after exhausting its reconnect budget.
	Error string `json:"error,omitempty"`
}

// AudioSendOutcome is the explicit result of attempting a provider send,
// returned as a value rather than an error to unwind.
type AudioSendOutcome int

const (
	SendOutcomeSent AudioSendOutcome = iota
	SendOutcomeQueued
	SendOutcomeRejected
)

// ReadyState mirrors the transport-level states a ProviderSession's
// underlying socket can report, generalized across vendor SDKs so the
// worker's readiness probe never has to probe vendor-specific types.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// SessionCallbacks are invoked by a ProviderSession as the vendor connection
// progresses. They run on the session's own reply-handling goroutine, never
// on the caller's aggregator task, so the worker must hand off through a
// channel rather than mutate shared state directly.
type SessionCallbacks struct {
	OnReady      func()
	OnTranscript func(TranscriptEvent)
	OnError      func(error)
	OnClose      func()
}

// ProviderSession is the single capability every ASR vendor adapter
// implements: open/send/keepAlive/close plus an explicit readiness probe.
// Call sites never probe vendor socket types at runtime; every adapter
// must satisfy exactly this shape.
type ProviderSession interface {
	// Open starts the asynchronous handshake; callbacks fire as the session
	// progresses. Open itself does not block on readiness.
	Open(ctx context.Context, cb SessionCallbacks) error
	// Send transmits a binary PCM payload. Implementations must not block
	// waiting for a provider reply; Send is fire-and-forget with respect to
	// transcript delivery; a blocked Send stalls the whole call.
	Send(pcm []byte) error
	// KeepAlive emits the provider-expected idle heartbeat on the same
	// transport as audio.
	KeepAlive() error
	// ReadyState reports the underlying transport's current state.
	ReadyState() ReadyState
	// Close tears down the session. Safe to call more than once.
	Close() error
}

// ProviderFactory constructs a fresh ProviderSession for one call. A new
// session is created on every (re)open; vendor clients are expected to be
// safe to construct cheaply (no shared mutable state across sessions).
type ProviderFactory func(callID, tenantID string, sampleRate int) ProviderSession
