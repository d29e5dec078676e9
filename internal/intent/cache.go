// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/agent-assist/internal/store"
)

const cacheTTL = 5 * time.Second

// cacheKey mirrors (callId, hash(lastN utterances)) so an unchanged window
// within the 5s TTL skips a redundant LLM call.
func cacheKey(callID string, utterances []store.Utterance) string {
	h := sha256.New()
	for _, u := range utterances {
		h.Write([]byte(u.Speaker))
		h.Write([]byte(u.Text))
	}
	return "intent:cache:" + callID + ":" + hex.EncodeToString(h.Sum(nil))
}

// Cache short-circuits repeated classification of an unchanged transcript
// window, backed by the same Redis deployment as the Bus (a plain SETEX,
// not a stream; no consumer-group machinery needed here).
type Cache struct {
	client *redis.Client
}

// NewCache wraps an existing *redis.Client for the intent/TTL cache.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached intent label/confidence for this exact window, or
// ok=false on a miss. A nil Cache (no Redis in this deployment) always
// misses.
func (c *Cache) Get(ctx context.Context, callID string, utterances []store.Utterance) (Classification, bool) {
	if c == nil || c.client == nil {
		return Classification{}, false
	}
	val, err := c.client.Get(ctx, cacheKey(callID, utterances)).Result()
	if err != nil {
		return Classification{}, false
	}
	parts := strings.SplitN(val, "|", 2)
	if len(parts) != 2 {
		return Classification{}, false
	}
	conf, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Classification{}, false
	}
	return Classification{Intent: parts[0], Confidence: conf}, true
}

// Set stores cls for this window with the fixed TTL. No-op on a nil Cache.
func (c *Cache) Set(ctx context.Context, callID string, utterances []store.Utterance, cls Classification) {
	if c == nil || c.client == nil {
		return
	}
	val := cls.Intent + "|" + strconv.FormatFloat(cls.Confidence, 'f', -1, 64)
	c.client.Set(ctx, cacheKey(callID, utterances), val, cacheTTL)
}
