// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// detectProtocol inspects the first inbound message and decides which
// protocol this connection is speaking. A carrier frame always starts with
// a JSON object carrying an "event" key; the native protocol's start frame
// also carries "event" but additionally "interactionId", so a frame with
// "interactionId" is native. Otherwise an event of "connected" or "start",
// or a "start" object, marks the carrier protocol; any other first frame is
// unknown.
func detectProtocol(first []byte) Protocol {
	var probe struct {
		Event         string          `json:"event"`
		InteractionID string          `json:"interactionId"`
		Start         json.RawMessage `json:"start"`
	}
	if err := json.Unmarshal(first, &probe); err != nil {
		return ProtocolUnknown
	}
	if probe.InteractionID != "" {
		return ProtocolNative
	}
	if probe.Event == "connected" || probe.Event == "start" || len(probe.Start) > 0 {
		return ProtocolCarrier
	}
	return ProtocolUnknown
}

// parseCarrierFrame decodes a single carrier-protocol text JSON message.
func parseCarrierFrame(raw []byte) (*carrierFrame, error) {
	var f carrierFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("ingest: malformed carrier frame: %w", err)
	}
	return &f, nil
}

// carrierCallID resolves callId = callSid || streamSid.
func carrierCallID(f *carrierFrame) string {
	if f.Start == nil {
		return ""
	}
	if f.Start.CallSid != "" {
		return f.Start.CallSid
	}
	return f.Start.StreamSid
}

// decodeCarrierMedia base64-decodes a carrier media payload.
func decodeCarrierMedia(payloadB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("ingest: invalid base64 media payload: %w", err)
	}
	return raw, nil
}

// looksLikeJSON reports whether a supposedly binary audio payload is a
// JSON document. Some carriers send JSON on the binary channel; such
// payloads are rejected for this chunk (logged at debug, not fatal to the
// connection).
func looksLikeJSON(b []byte) bool {
	return json.Valid(b) && len(b) > 0 && (b[0] == '{' || b[0] == '[')
}
