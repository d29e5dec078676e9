// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import "fmt"

// Encoding identifies the sample encoding carried by an AudioFrame.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm16"
)

// Frame is the unit of audio published onto the bus by the Ingest Gateway
// and consumed by the ASR Worker. seq is strictly increasing per callId;
// len(Payload) must equal samples * 2 * Channels for PCM16.
type Frame struct {
	CallID      string   `json:"callId"`
	TenantID    string   `json:"tenantId"`
	Seq         uint64   `json:"seq"`
	SampleRate  int      `json:"sampleRate"`
	Encoding    Encoding `json:"encoding"`
	Channels    int      `json:"channels"`
	Payload     []byte   `json:"payload"`
	TimestampMs int64    `json:"timestampMs"`
}

// BytesPerSample is fixed at 2 for 16-bit PCM.
const BytesPerSample = 2

// BytesPerMs returns how many payload bytes correspond to 1ms of audio at
// the frame's sample rate and channel count.
func (f Frame) BytesPerMs() float64 {
	return float64(f.SampleRate) * float64(BytesPerSample) * float64(f.Channels) / 1000.0
}

// DurationMs returns the audio duration represented by Payload, given the
// frame's sample rate and channel count.
func (f Frame) DurationMs() int64 {
	bpms := f.BytesPerMs()
	if bpms <= 0 {
		return 0
	}
	return int64(float64(len(f.Payload)) / bpms)
}

// Validate enforces the AudioFrame invariant: payload length matches the
// declared sample geometry.
func (f Frame) Validate() error {
	if f.Encoding != EncodingPCM16 {
		return fmt.Errorf("audio: unsupported encoding %q", f.Encoding)
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample geometry (rate=%d channels=%d)", f.SampleRate, f.Channels)
	}
	if len(f.Payload)%(BytesPerSample*f.Channels) != 0 {
		return fmt.Errorf("audio: payload length %d not aligned to %d-byte samples", len(f.Payload), BytesPerSample*f.Channels)
	}
	return nil
}
