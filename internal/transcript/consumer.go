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
	"sync"
	"time"

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

const (
	consumerGroupName = "transcript-consumer"
	cleanupInterval   = 30 * time.Second
	callIdleMax       = 10 * time.Minute
)

// subscription tracks bookkeeping for one callId's transcript.<callId>
// stream.
type subscription struct {
	callID             string
	subscribedAt       time.Time
	lastActivityAt     time.Time
	fragmentsForwarded int
	cancel             context.CancelFunc
}

// wireTranscript mirrors asr.TranscriptEvent's JSON shape without importing
// the asr package, keeping the Transcript Consumer's wire contract
// independent of the ASR Worker's internal types.
type wireTranscript struct {
	CallID     string  `json:"callId"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"createdAt"`
}

// Consumer is the C4 component: it discovers transcript.<callId> streams
// only in reaction to activity and forwards fragments to the App API.
// Blind periodic scanning is deliberately absent: it subscribes to stale
// test calls and grows memory without bound.
type Consumer struct {
	bus       bus.Bus
	forwarder *Forwarder
	dlq       *DeadLetterQueue
	logger    commons.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewConsumer constructs the Transcript Consumer.
func NewConsumer(b bus.Bus, forwarder *Forwarder, dlqCapacity int, logger commons.Logger) *Consumer {
	return &Consumer{
		bus:       b,
		forwarder: forwarder,
		dlq:       NewDeadLetterQueue(dlqCapacity),
		logger:    logger,
		subs:      make(map[string]*subscription),
	}
}

// Run performs the one-time crash-recovery sweep (subscribing to whatever
// transcript.* streams already exist from before a restart), then listens
// on the transcript_control topic for subscribe/unsubscribe requests from
// the App ingest endpoint while running the idle-cleanup loop, until ctx is
// canceled. It does NOT re-scan on an interval; ongoing discovery is
// exclusively control-message-driven.
func (c *Consumer) Run(ctx context.Context) error {
	c.recoverySweep(ctx)

	utils.Go(ctx, func() {
		err := c.bus.Subscribe(ctx, bus.TopicTranscriptControl, consumerGroupName, "transcript-consumer-0", c.handleControl)
		if err != nil && ctx.Err() == nil {
			c.logger.Errorw("transcript: control subscription ended", "err", err)
		}
	})

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			return ctx.Err()
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

// handleControl reacts to one subscribe/unsubscribe request off the bus.
// Malformed messages are dropped (acked), never retried.
func (c *Consumer) handleControl(ctx context.Context, msg bus.Message) error {
	m, err := decodeControl(msg.Payload)
	if err != nil {
		c.logger.Warnw("transcript: dropping malformed control message", "err", err)
		return nil
	}
	switch m.Action {
	case actionSubscribe:
		c.RequestSubscribe(ctx, m.CallID)
	case actionUnsubscribe:
		c.Unsubscribe(m.CallID)
	default:
		c.logger.Warnw("transcript: unknown control action", "action", m.Action)
	}
	return nil
}

// recoverySweep discovers any transcript.<callId> streams left over from a
// prior process instance. This runs exactly once at startup; it is a
// crash-recovery mechanism, not the ongoing discovery path.
func (c *Consumer) recoverySweep(ctx context.Context) {
	scanner, ok := c.bus.(bus.StreamScanner)
	if !ok {
		return
	}
	topics, err := scanner.ScanTopics(ctx, "transcript.*")
	if err != nil {
		c.logger.Warnw("transcript: startup recovery sweep failed", "err", err)
		return
	}
	for _, topic := range topics {
		if callID := bus.CallIDFromTranscriptTopic(topic); callID != "" {
			c.RequestSubscribe(ctx, callID)
		}
	}
	c.logger.Infof("transcript: recovery sweep subscribed to %d existing streams", len(topics))
}

// RequestSubscribe is invoked when the App ingest endpoint sees the first
// fragment for a new callId. It is the only path by which ongoing
// subscriptions are created; a call already subscribed is a no-op.
func (c *Consumer) RequestSubscribe(ctx context.Context, callID string) {
	c.mu.Lock()
	if _, exists := c.subs[callID]; exists {
		c.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		callID:         callID,
		subscribedAt:   time.Now(),
		lastActivityAt: time.Now(),
		cancel:         cancel,
	}
	c.subs[callID] = sub
	c.mu.Unlock()

	utils.Go(ctx, func() { c.runSubscription(subCtx, sub) })
}

func (c *Consumer) runSubscription(ctx context.Context, sub *subscription) {
	topic := bus.TranscriptTopic(sub.callID)
	err := c.bus.Subscribe(ctx, topic, consumerGroupName, "transcript-consumer-0", func(handlerCtx context.Context, msg bus.Message) error {
		return c.forward(handlerCtx, sub, msg)
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Warnw("transcript: subscription ended with error", "callId", sub.callID, "err", err)
	}
}

// forward decodes one transcript fragment and forwards it to the App API.
// On failure, it returns a non-nil error so the Bus leaves the message
// pending for redelivery, and records the attempt in the dead-letter queue
// for observability.
func (c *Consumer) forward(ctx context.Context, sub *subscription, msg bus.Message) error {
	var wt wireTranscript
	if err := json.Unmarshal(msg.Payload, &wt); err != nil {
		c.logger.Warnw("transcript: dropping malformed fragment", "err", err)
		return nil
	}

	isFinal := wt.Kind == "final"
	ts := time.Now().UnixMilli()

	err := c.forwarder.Forward(ctx, wt.CallID, wt.Text, ts, isFinal, wt.Confidence)
	if err != nil {
		c.dlq.Push(DeadLetter{CallID: wt.CallID, Payload: msg.Payload, Err: err.Error(), FailedAt: time.Now()})
		return fmt.Errorf("transcript: forward failed: %w", err)
	}

	c.mu.Lock()
	sub.lastActivityAt = time.Now()
	sub.fragmentsForwarded++
	c.mu.Unlock()
	return nil
}

// evictIdle cancels and forgets any subscription idle longer than
// callIdleMax (10 minutes), bounding subscription growth.
func (c *Consumer) evictIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for callID, sub := range c.subs {
		if now.Sub(sub.lastActivityAt) > callIdleMax {
			sub.cancel()
			delete(c.subs, callID)
			c.logger.Debugf("transcript: evicted idle subscription callId=%s", callID)
		}
	}
}

// Unsubscribe cancels a subscription immediately, used on call end so the
// stream is not held open for the full idle window.
func (c *Consumer) Unsubscribe(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[callID]; ok {
		sub.cancel()
		delete(c.subs, callID)
	}
}

func (c *Consumer) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for callID, sub := range c.subs {
		sub.cancel()
		delete(c.subs, callID)
	}
}

// DeadLetters returns a snapshot of the bounded DLQ. The /api/health
// response does not include it.
func (c *Consumer) DeadLetters() []DeadLetter { return c.dlq.Snapshot() }

// SubscriptionCount reports active subscriptions (unbounded in principle,
// but cleaned at idle).
func (c *Consumer) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
