// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package ingest

import "encoding/json"

// connState is the per-connection state machine, kept as a small explicit
// enum rather than a generic FSM dependency.
type connState int

const (
	StateAwaitStart connState = iota
	StateStreaming
	StateStopping
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateAwaitStart:
		return "await_start"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Protocol identifies which of the two auto-detected ingest wire formats a
// connection is speaking.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolCarrier
	ProtocolNative
)

// audioEnvelope is the wire format published onto the audio_stream bus
// topic: a JSON envelope with base64 PCM plus metadata.
type audioEnvelope struct {
	CallID      string `json:"callId"`
	TenantID    string `json:"tenantId"`
	Seq         uint64 `json:"seq"`
	SampleRate  int    `json:"sampleRate"`
	Encoding    string `json:"encoding"`
	Channels    int    `json:"channels"`
	PayloadB64  string `json:"payload_b64"`
	TimestampMs int64  `json:"timestampMs"`
}

func (e audioEnvelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// carrierFrame is the generic shape of every carrier-protocol text JSON
// message; fields are populated according to Event.
type carrierFrame struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid   string `json:"streamSid"`
		CallSid     string `json:"callSid"`
		MediaFormat struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
			Channels   int    `json:"channels"`
		} `json:"mediaFormat"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload   string `json:"payload"`
		Timestamp string `json:"timestamp"`
		Chunk     string `json:"chunk"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// nativeFrame is the shape of the native protocol's JSON control frames
// (start/stop); audio itself travels as raw binary frames.
type nativeFrame struct {
	Event         string `json:"event"`
	InteractionID string `json:"interactionId"`
	TenantID      string `json:"tenantId"`
	SampleRate    int    `json:"sampleRate"`
	Encoding      string `json:"encoding"`
}
