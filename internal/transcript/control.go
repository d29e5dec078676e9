// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
)

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// controlMessage travels on bus.TopicTranscriptControl: the App ingest
// endpoint publishes one when it sees the first fragment for a new callId
// (or when a call is disposed), and the Consumer reacts. This keeps
// discovery activity-driven even when C4 and C5 run in separate processes.
type controlMessage struct {
	CallID string `json:"callId"`
	Action string `json:"action"`
}

// Control is the App API's handle for steering the Transcript Consumer's
// subscriptions over the bus.
type Control struct {
	bus    bus.Bus
	logger commons.Logger
}

// NewControl wraps the process bus adapter for subscription control.
func NewControl(b bus.Bus, logger commons.Logger) *Control {
	return &Control{bus: b, logger: logger}
}

// RequestSubscribe asks the consumer to start forwarding transcript.<callId>.
func (c *Control) RequestSubscribe(ctx context.Context, callID string) {
	c.publish(ctx, callID, actionSubscribe)
}

// Unsubscribe asks the consumer to drop callId's subscription immediately
// (call end / dispose), rather than waiting for the idle sweep.
func (c *Control) Unsubscribe(ctx context.Context, callID string) {
	c.publish(ctx, callID, actionUnsubscribe)
}

// PublishCallEnd emits the bus-wide call_end control message so the ASR
// worker finishes the call's provider session even when the end request
// came through the App API rather than the carrier's stop frame.
func (c *Control) PublishCallEnd(ctx context.Context, callID string) {
	payload, err := json.Marshal(struct {
		CallID string `json:"callId"`
	}{CallID: callID})
	if err != nil {
		c.logger.Errorw("transcript: marshaling call_end message", "err", err)
		return
	}
	if _, err := c.bus.Publish(ctx, bus.TopicCallEnd, payload); err != nil {
		c.logger.Warnw("transcript: publishing call_end failed", "callId", callID, "err", err)
	}
}

func (c *Control) publish(ctx context.Context, callID, action string) {
	payload, err := json.Marshal(controlMessage{CallID: callID, Action: action})
	if err != nil {
		c.logger.Errorw("transcript: marshaling control message", "err", err)
		return
	}
	if _, err := c.bus.Publish(ctx, bus.TopicTranscriptControl, payload); err != nil {
		c.logger.Warnw("transcript: publishing control message failed", "callId", callID, "action", action, "err", err)
	}
}

func decodeControl(raw []byte) (controlMessage, error) {
	var m controlMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return controlMessage{}, fmt.Errorf("transcript: malformed control message: %w", err)
	}
	return m, nil
}
