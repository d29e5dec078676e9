// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/agent-assist/internal/commons"
)

const (
	maxStreamLen   = 200000 // approximates the 1h/100MB retention contract
	maxBackoff     = 30 * time.Second
	initialBackoff = 250 * time.Millisecond
	readBlock      = 2 * time.Second
	readCount      = 50
)

// RedisBus implements Bus on Redis Streams. One producer client and one
// consumer client are constructed once in New and threaded through every
// caller as a capability, never as a package-level global.
type RedisBus struct {
	producer *redis.Client
	consumer *redis.Client
	logger   commons.Logger
}

// New constructs a RedisBus from a pre-built address/credentials pair. Two
// independent *redis.Client pools are opened: one dedicated to XADD, one to
// XREADGROUP/XACK, so a slow consumer never starves publishers.
func New(addr, password string, db int, logger commons.Logger) *RedisBus {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	return &RedisBus{
		producer: redis.NewClient(opts),
		consumer: redis.NewClient(opts),
		logger:   logger,
	}
}

// KV exposes the producer connection for small keyspace side-operations
// (the intent cache's SETEX), keeping the process within its one-producer/
// one-consumer connection budget.
func (b *RedisBus) KV() *redis.Client { return b.producer }

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	id, err := b.producer.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	return id, nil
}

func (b *RedisBus) Ack(ctx context.Context, topic, group, messageID string) error {
	if err := b.consumer.XAck(ctx, topic, group, messageID).Err(); err != nil {
		return fmt.Errorf("bus: ack %s/%s/%s: %w", topic, group, messageID, err)
	}
	return nil
}

// ScanTopics implements StreamScanner via a cursor-based SCAN, used only
// for the Transcript Consumer's one-time startup recovery sweep, never for
// continuous polling; blind periodic scanning is forbidden.
func (b *RedisBus) ScanTopics(ctx context.Context, pattern string) ([]string, error) {
	var topics []string
	var cursor uint64
	for {
		keys, next, err := b.consumer.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("bus: scanning topics matching %s: %w", pattern, err)
		}
		topics = append(topics, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return topics, nil
}

func (b *RedisBus) Close() error {
	perr := b.producer.Close()
	cerr := b.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

func (b *RedisBus) ensureGroup(ctx context.Context, topic, group string) error {
	err := b.consumer.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("bus: creating group %s on %s: %w", group, topic, err)
	}
	return nil
}

// Subscribe drains this consumer's pending backlog (XREADGROUP ID "0"),
// then joins live delivery (ID ">"). It blocks until ctx is canceled,
// retrying transient transport errors with exponential backoff capped at
// 30s and never storm-reconnecting on capacity exhaustion.
func (b *RedisBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	if err := b.ensureGroup(ctx, topic, group); err != nil {
		return err
	}

	backoff := initialBackoff
	drainingPending := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readID := ">"
		if drainingPending {
			readID = "0"
		}

		streams, err := b.consumer.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, readID},
			Count:    readCount,
			Block:    readBlock,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				if drainingPending {
					drainingPending = false
				}
				continue
			}
			if isCapacityExhausted(err) {
				b.logger.Warnw("bus: capacity exhausted, waiting before retry", "topic", topic, "group", group, "backoffMs", backoff.Milliseconds())
			} else {
				b.logger.Warnw("bus: XREADGROUP error, backing off", "topic", topic, "group", group, "err", err, "backoffMs", backoff.Milliseconds())
			}
			b.sleep(ctx, backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		delivered := 0
		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				delivered++
				msg := Message{ID: xmsg.ID, Topic: topic, Payload: payloadOf(xmsg.Values)}
				if herr := handler(ctx, msg); herr != nil {
					b.logger.Errorw("bus: handler failed, leaving message pending", "topic", topic, "id", xmsg.ID, "err", herr)
					continue
				}
				if aerr := b.Ack(ctx, topic, group, xmsg.ID); aerr != nil {
					b.logger.Errorw("bus: ack failed", "topic", topic, "id", xmsg.ID, "err", aerr)
				}
			}
		}

		if drainingPending && delivered == 0 {
			drainingPending = false
		}
	}
}

func (b *RedisBus) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func isCapacityExhausted(err error) bool {
	return strings.Contains(err.Error(), "max number of clients")
}

func payloadOf(values map[string]interface{}) []byte {
	v, ok := values["payload"]
	if !ok {
		return nil
	}
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return []byte(fmt.Sprintf("%v", p))
	}
}
