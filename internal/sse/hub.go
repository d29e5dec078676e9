// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sse is the C6 component: it fans call events (transcript lines,
// intent updates, call_end) out to connected agent-desktop browsers over
// Server-Sent Events.
package sse

import (
	"sync"
	"time"

	"github.com/rapidaai/agent-assist/internal/commons"
)

const (
	defaultMaxClients = 20
	clientIdleMax     = 10 * time.Minute
	cleanupInterval   = 30 * time.Second
	heartbeatInterval = 15 * time.Second
	clientBacklog     = 32
)

// Event is one SSE payload. Name becomes the `event:` field; Data is
// marshaled JSON written as the `data:` field.
type Event struct {
	CallID string
	Name   string
	Data   []byte
}

type client struct {
	id           string
	callID       string
	ch           chan Event
	connectedAt  time.Time
	lastActivity time.Time
}

// Hub is a bounded broadcast registry. When full, the oldest client is
// evicted to admit a new one rather than rejecting new connections
// outright; the cap is load-bearing for memory on small instances.
type Hub struct {
	logger     commons.Logger
	maxClients int

	mu      sync.Mutex
	clients map[string]*client
	order   []string
}

// NewHub constructs the SSE hub. maxClients <= 0 falls back to the default.
func NewHub(maxClients int, logger commons.Logger) *Hub {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	return &Hub{
		logger:     logger,
		maxClients: maxClients,
		clients:    make(map[string]*client),
	}
}

// Register adds a new client subscribed to events for callID (or all calls,
// if callID is empty, a supervisor-style dashboard view) and returns its
// event channel plus a deregister func the caller must defer.
func (h *Hub) Register(clientID, callID string) (<-chan Event, func()) {
	h.mu.Lock()
	if len(h.order) >= h.maxClients {
		oldestID := h.order[0]
		h.order = h.order[1:]
		if oldest, ok := h.clients[oldestID]; ok {
			close(oldest.ch)
			delete(h.clients, oldestID)
			h.logger.Warnw("sse: evicted oldest client to admit new connection", "evicted", oldestID, "maxClients", h.maxClients)
		}
	}

	c := &client{
		id:           clientID,
		callID:       callID,
		ch:           make(chan Event, clientBacklog),
		connectedAt:  time.Now(),
		lastActivity: time.Now(),
	}
	h.clients[clientID] = c
	h.order = append(h.order, clientID)
	h.mu.Unlock()

	return c.ch, func() { h.remove(clientID) }
}

func (h *Hub) remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	close(c.ch)
	delete(h.clients, clientID)
	for i, id := range h.order {
		if id == clientID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Broadcast fans an event out to every client subscribed to ev.CallID (or
// subscribed to all calls). Send is non-blocking: a client whose backlog is
// full is evicted rather than letting one slow consumer stall the hub.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		if c.callID != "" && c.callID != ev.CallID {
			continue
		}
		select {
		case c.ch <- ev:
			c.lastActivity = time.Now()
		default:
			h.logger.Warnw("sse: client backlog full, evicting", "clientId", id)
			go h.remove(id)
		}
	}
}

// Touch records activity for a client without a broadcast (used after a
// successful heartbeat write) so idle eviction only fires on true silence.
func (h *Hub) Touch(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.lastActivity = time.Now()
	}
}

// RunCleanup evicts clients idle longer than clientIdleMax every
// cleanupInterval, until stop is closed.
func (h *Hub) RunCleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() {
	h.mu.Lock()
	now := time.Now()
	var stale []string
	for id, c := range h.clients {
		if now.Sub(c.lastActivity) > clientIdleMax {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.logger.Debugf("sse: evicting idle client %s", id)
		h.remove(id)
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
