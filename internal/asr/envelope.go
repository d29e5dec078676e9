// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rapidaai/agent-assist/internal/audio"
)

// wireAudioEnvelope mirrors the audio_stream bus payload published by the
// Ingest Gateway: a JSON envelope with base64 PCM plus metadata. The
// ASR Worker owns its own decode side of this wire contract independently of
// the gateway's encode side.
type wireAudioEnvelope struct {
	CallID      string `json:"callId"`
	TenantID    string `json:"tenantId"`
	Seq         uint64 `json:"seq"`
	SampleRate  int    `json:"sampleRate"`
	Encoding    string `json:"encoding"`
	Channels    int    `json:"channels"`
	PayloadB64  string `json:"payload_b64"`
	TimestampMs int64  `json:"timestampMs"`
}

// decodeAudioFrame parses a bus message payload into an audio.Frame,
// validating the AudioFrame invariant before the aggregator ever sees it.
func decodeAudioFrame(raw []byte) (audio.Frame, error) {
	var env wireAudioEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return audio.Frame{}, fmt.Errorf("asr: malformed audio envelope: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(env.PayloadB64)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("asr: invalid base64 payload: %w", err)
	}
	f := audio.Frame{
		CallID:      env.CallID,
		TenantID:    env.TenantID,
		Seq:         env.Seq,
		SampleRate:  env.SampleRate,
		Encoding:    audio.Encoding(env.Encoding),
		Channels:    env.Channels,
		Payload:     payload,
		TimestampMs: env.TimestampMs,
	}
	if err := f.Validate(); err != nil {
		return audio.Frame{}, err
	}
	return f, nil
}

// callEndControl is the payload shape published on bus.TopicCallEnd.
type callEndControl struct {
	CallID string `json:"callId"`
}

func decodeCallEnd(raw []byte) (string, error) {
	var c callEndControl
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("asr: malformed call_end control message: %w", err)
	}
	return c.CallID, nil
}

func marshalTranscript(ev TranscriptEvent) ([]byte, error) {
	return json.Marshal(ev)
}
