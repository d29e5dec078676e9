// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package sse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// Handler exposes GET /api/events/stream backed by a Hub.
type Handler struct {
	hub    *Hub
	logger commons.Logger
}

// NewHandler constructs the SSE route handler.
func NewHandler(hub *Hub, logger commons.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// Stream upgrades the request to a long-lived text/event-stream response and
// relays Hub broadcasts for c.Query("callId") (empty means all calls) until
// the client disconnects. A "hello" event is sent immediately on connect and
// a "ping" heartbeat every 15s keeps intermediary proxies from timing out.
func (h *Handler) Stream(c *gin.Context) {
	callID := c.Query("callId")
	clientID := uuid.NewString()

	events, unregister := h.hub.Register(clientID, callID)
	defer unregister()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	writeEvent(c, "hello", map[string]string{"clientId": clientID})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(ev.Name, json.RawMessage(ev.Data))
			c.Writer.Flush()
		case <-heartbeat.C:
			writeEvent(c, "ping", map[string]int64{"ts": time.Now().UnixMilli()})
			h.hub.Touch(clientID)
		}
	}
}

func writeEvent(c *gin.Context, name string, payload interface{}) {
	c.SSEvent(name, payload)
	c.Writer.Flush()
}

// MarshalOrLog JSON-encodes v, logging (rather than returning) on failure.
// Broadcast call sites never expect encode errors for the small structs
// they pass, so a logged drop beats threading an error return through
// every publish call.
func MarshalOrLog(logger commons.Logger, v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("sse: marshal event payload: %v", err)
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}
