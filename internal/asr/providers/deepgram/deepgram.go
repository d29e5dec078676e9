// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package deepgram adapts the Deepgram streaming SDK to the
// asr.ProviderSession capability. Deepgram is the low-latency back-end:
// 250ms burst, 100ms floor, 200ms send-gap ceiling.
package deepgram

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/rapidaai/agent-assist/internal/asr"
	"github.com/rapidaai/agent-assist/internal/commons"
)

// Session wraps a Deepgram live-transcription WebSocket client behind the
// generic ProviderSession capability: a single open/send/keepAlive/close
// shape, no vendor-specific property probing at call sites.
type Session struct {
	callID     string
	apiKey     string
	sampleRate int
	logger     commons.Logger

	mu    sync.Mutex
	conn  *client.WSCallback
	state int32 // atomic asr.ReadyState
	cb    asr.SessionCallbacks
}

// NewFactory returns an asr.ProviderFactory bound to apiKey.
func NewFactory(apiKey string, logger commons.Logger) asr.ProviderFactory {
	return func(callID, tenantID string, sampleRate int) asr.ProviderSession {
		return &Session{callID: callID, apiKey: apiKey, sampleRate: sampleRate, logger: logger.With("callId", callID, "provider", "deepgram")}
	}
}

// callback adapts Deepgram's LiveMessageCallback to this session's
// asr.SessionCallbacks, translating every vendor event type into the
// generic TranscriptEvent / readiness shape the worker understands.
type callback struct {
	session *Session
}

func (c callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	kind := asr.KindPartial
	if mr.IsFinal {
		kind = asr.KindFinal
	}
	if c.session.cb.OnTranscript != nil {
		c.session.cb.OnTranscript(asr.TranscriptEvent{
			Kind:       kind,
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			StartMs:    int64(mr.Start * 1000),
			EndMs:      int64((mr.Start + mr.Duration) * 1000),
		})
	}
	return nil
}

func (c callback) Open(_ *msginterfaces.OpenResponse) error {
	atomic.StoreInt32(&c.session.state, int32(asr.StateOpen))
	if c.session.cb.OnReady != nil {
		c.session.cb.OnReady()
	}
	return nil
}

func (c callback) Metadata(_ *msginterfaces.MetadataResponse) error { return nil }

func (c callback) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error { return nil }

func (c callback) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error { return nil }

func (c callback) Close(_ *msginterfaces.CloseResponse) error {
	atomic.StoreInt32(&c.session.state, int32(asr.StateClosed))
	if c.session.cb.OnClose != nil {
		c.session.cb.OnClose()
	}
	return nil
}

func (c callback) Error(er *msginterfaces.ErrorResponse) error {
	if c.session.cb.OnError != nil {
		c.session.cb.OnError(fmt.Errorf("deepgram: %s: %s", er.ErrCode, er.ErrMsg))
	}
	return nil
}

func (c callback) UnhandledEvent(byData []byte) error {
	c.session.logger.Debugw("deepgram: unhandled event", "raw", string(byData))
	return nil
}

func (s *Session) Open(ctx context.Context, cb asr.SessionCallbacks) error {
	s.mu.Lock()
	s.cb = cb
	atomic.StoreInt32(&s.state, int32(asr.StateConnecting))
	s.mu.Unlock()

	cOptions := &interfaces.ClientOptions{
		APIKey: s.apiKey,
		// The SDK emits the {"type":"KeepAlive"} control frame on the
		// audio transport itself when this is set.
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          "nova-2",
		Language:       "en-US",
		Encoding:       "linear16",
		SampleRate:     s.sampleRate,
		Channels:       1,
		SmartFormat:    true,
		Punctuate:      true,
		InterimResults: true,
	}

	conn, err := client.NewWSUsingCallback(ctx, s.apiKey, cOptions, tOptions, callback{session: s})
	if err != nil {
		return fmt.Errorf("deepgram: dialing live client: %w", err)
	}
	if !conn.Connect() {
		return fmt.Errorf("deepgram: connect handshake failed")
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Session) Send(pcm []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return asr.ErrNotReady
	}
	if err := conn.WriteBinary(pcm); err != nil {
		return fmt.Errorf("deepgram: write binary: %w", err)
	}
	return nil
}

// KeepAlive reports success without writing anything: the SDK client emits
// Deepgram's {"type":"KeepAlive"} frame itself (EnableKeepAlive above), on
// the same transport as the audio.
func (s *Session) KeepAlive() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return asr.ErrNotReady
	}
	return nil
}

func (s *Session) ReadyState() asr.ReadyState {
	return asr.ReadyState(atomic.LoadInt32(&s.state))
}

func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	atomic.StoreInt32(&s.state, int32(asr.StateClosed))
	if conn == nil {
		return nil
	}
	conn.Stop()
	return nil
}
