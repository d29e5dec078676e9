// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package awstranscribe adapts AWS Transcribe Streaming to the
// asr.ProviderSession capability. Transcribe tolerates larger chunks and
// wider gaps than the low-latency providers, so its aggregator column runs
// at a 500ms burst / 300ms floor / 400ms ceiling.
package awstranscribe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	transcribestreaming "github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	tstypes "github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/rapidaai/agent-assist/internal/asr"
	"github.com/rapidaai/agent-assist/internal/commons"
)

// Session wraps one AWS Transcribe Streaming bidirectional stream.
type Session struct {
	callID     string
	sampleRate int
	client     *transcribestreaming.Client
	logger     commons.Logger

	mu     sync.Mutex
	stream *transcribestreaming.StartStreamTranscriptionEventStream
	state  int32 // atomic asr.ReadyState
	cb     asr.SessionCallbacks
	closed bool
}

// NewFactory returns an asr.ProviderFactory bound to an AWS client built
// from the process's configured credentials/region.
func NewFactory(awsClient *transcribestreaming.Client, logger commons.Logger) asr.ProviderFactory {
	return func(callID, tenantID string, sampleRate int) asr.ProviderSession {
		return &Session{callID: callID, sampleRate: sampleRate, client: awsClient, logger: logger.With("callId", callID, "provider", "awstranscribe")}
	}
}

func (s *Session) Open(ctx context.Context, cb asr.SessionCallbacks) error {
	s.mu.Lock()
	s.cb = cb
	atomic.StoreInt32(&s.state, int32(asr.StateConnecting))
	s.mu.Unlock()

	stream, err := s.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         tstypes.LanguageCodeEnUs,
		MediaEncoding:        tstypes.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(s.sampleRate)),
	})
	if err != nil {
		return fmt.Errorf("awstranscribe: starting stream transcription: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	// The receiver goroutine owns the event loop; OnReady fires as soon as
	// the stream is up, independently of the sender.
	atomic.StoreInt32(&s.state, int32(asr.StateOpen))
	if cb.OnReady != nil {
		cb.OnReady()
	}
	go s.receiveLoop(ctx, stream)

	return nil
}

func (s *Session) receiveLoop(ctx context.Context, stream *transcribestreaming.StartStreamTranscriptionEventStream) {
	for ev := range stream.GetStream().Events() {
		te, ok := ev.(*tstypes.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || te.Value.Transcript == nil {
			continue
		}
		for _, res := range te.Value.Transcript.Results {
			for _, alt := range res.Alternatives {
				if alt.Transcript == nil {
					continue
				}
				kind := asr.KindPartial
				if !res.IsPartial {
					kind = asr.KindFinal
				}
				if s.cb.OnTranscript != nil {
					s.cb.OnTranscript(asr.TranscriptEvent{
						Kind: kind,
						Text: *alt.Transcript,
					})
				}
			}
		}
	}

	atomic.StoreInt32(&s.state, int32(asr.StateClosed))
	if err := stream.GetStream().Err(); err != nil {
		if s.cb.OnError != nil {
			s.cb.OnError(fmt.Errorf("awstranscribe: stream error: %w", err))
		}
		return
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

func (s *Session) Send(pcm []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return asr.ErrNotReady
	}
	err := stream.GetStream().Send(context.Background(), &tstypes.AudioStreamMemberAudioEvent{
		Value: tstypes.AudioEvent{AudioChunk: pcm},
	})
	if err != nil {
		return fmt.Errorf("awstranscribe: send audio chunk: %w", err)
	}
	return nil
}

// KeepAlive sends a minimal silent audio chunk: AWS Transcribe Streaming has
// no dedicated idle-heartbeat frame, so the keep-alive format for this
// provider is a zero-length AudioEvent on the same event stream.
func (s *Session) KeepAlive() error {
	return s.Send([]byte{})
}

func (s *Session) ReadyState() asr.ReadyState {
	return asr.ReadyState(atomic.LoadInt32(&s.state))
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	atomic.StoreInt32(&s.state, int32(asr.StateClosed))
	if s.stream == nil {
		return nil
	}
	return s.stream.GetStream().Close()
}
