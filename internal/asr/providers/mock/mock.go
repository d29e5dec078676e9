// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package mock provides a deterministic ProviderSession used by tests and
// by ASR_PROVIDER=mock deployments, with no external network dependency.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/agent-assist/internal/asr"
)

// Session is a ProviderSession stand-in. Open transitions to ready after a
// 5ms delay (simulating an async handshake); Send echoes back a fixed
// placeholder partial transcript and, once EmitFinalAfter sends have been
// observed, a final transcript instead.
type Session struct {
	callID string

	mu    sync.Mutex
	state asr.ReadyState
	cb    asr.SessionCallbacks
	sends int

	// EmitFinalAfter configures after how many Send calls a final
	// transcript is synthesized. Zero disables automatic finals.
	EmitFinalAfter int
	// FinalText is the text attached to the synthesized final event.
	FinalText string

	closed bool
}

// NewFactory returns an asr.ProviderFactory constructing mock sessions.
func NewFactory(finalText string, emitFinalAfter int) asr.ProviderFactory {
	return func(callID, tenantID string, sampleRate int) asr.ProviderSession {
		return &Session{callID: callID, state: asr.StateConnecting, EmitFinalAfter: emitFinalAfter, FinalText: finalText}
	}
}

func (s *Session) Open(ctx context.Context, cb asr.SessionCallbacks) error {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.state = asr.StateOpen
		onReady := s.cb.OnReady
		s.mu.Unlock()
		if onReady != nil {
			onReady()
		}
	}()
	return nil
}

func (s *Session) Send(pcm []byte) error {
	s.mu.Lock()
	if s.state != asr.StateOpen {
		s.mu.Unlock()
		return asr.ErrNotReady
	}
	s.sends++
	count := s.sends
	cb := s.cb
	emitFinal := s.EmitFinalAfter > 0 && count >= s.EmitFinalAfter
	finalText := s.FinalText
	s.mu.Unlock()

	if cb.OnTranscript == nil {
		return nil
	}

	go func() {
		if emitFinal {
			cb.OnTranscript(asr.TranscriptEvent{
				Kind:       asr.KindFinal,
				Text:       finalText,
				Confidence: 0.95,
			})
			return
		}
		cb.OnTranscript(asr.TranscriptEvent{
			Kind:       asr.KindPartial,
			Text:       strings.Repeat("…", 1),
			Confidence: 0.4,
		})
	}()
	return nil
}

func (s *Session) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != asr.StateOpen {
		return asr.ErrNotReady
	}
	return nil
}

func (s *Session) ReadyState() asr.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = asr.StateClosed
	if s.cb.OnClose != nil {
		cb := s.cb.OnClose
		go cb()
	}
	return nil
}
