// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package intent

import (
	"context"
	"fmt"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/store"
)

const (
	windowSize        = 12
	kbLimit           = 3
	kbConfidenceFloor = 0.5
)

// Update is what the service hands back to the caller (the App API) for
// persistence and SSE broadcast.
type Update struct {
	CallID     string
	Intent     string
	Confidence float64
	Articles   []store.KBArticle
	FromCache  bool
}

// Service ties the Classifier, Cache, KBStore and IntentStore together into
// the single classify-on-new-utterance operation.
type Service struct {
	classifier *Classifier
	cache      *Cache
	utterances store.UtteranceStore
	intents    store.IntentStore
	kb         store.KBStore
	logger     commons.Logger
}

// NewService constructs the Intent + KB component.
func NewService(classifier *Classifier, cache *Cache, utterances store.UtteranceStore, intents store.IntentStore, kb store.KBStore, logger commons.Logger) *Service {
	return &Service{
		classifier: classifier,
		cache:      cache,
		utterances: utterances,
		intents:    intents,
		kb:         kb,
		logger:     logger,
	}
}

// Classify loads the ordered transcript for callID, classifies the trailing
// window, persists the result, and attaches matching KB articles. On LLM
// failure it records "unknown" and returns ok=false so the caller skips the
// SSE broadcast; there is no inline retry.
func (s *Service) Classify(ctx context.Context, callID string) (Update, bool) {
	all, err := s.utterances.ListOrdered(ctx, callID)
	if err != nil {
		s.logger.Warnw("intent: loading utterances failed", "callId", callID, "err", err)
		return Update{}, false
	}
	window := trailingWindow(all, windowSize)
	if len(window) == 0 {
		return Update{}, false
	}

	if cached, ok := s.cache.Get(ctx, callID, window); ok {
		articles := s.lookupKB(ctx, cached)
		return Update{CallID: callID, Intent: cached.Intent, Confidence: cached.Confidence, Articles: articles, FromCache: true}, true
	}

	cls, err := s.classifier.Classify(ctx, window)
	if err != nil {
		s.logger.Warnw("intent: classification failed, recording unknown", "callId", callID, "err", err)
		_ = s.intents.Append(ctx, &store.Intent{CallID: callID, Label: store.IntentUnknown, Confidence: 0})
		return Update{}, false
	}

	s.cache.Set(ctx, callID, window, cls)

	if err := s.intents.Append(ctx, &store.Intent{CallID: callID, Label: cls.Intent, Confidence: cls.Confidence}); err != nil {
		s.logger.Warnw("intent: persisting classification failed", "callId", callID, "err", err)
	}

	articles := s.lookupKB(ctx, cls)
	return Update{CallID: callID, Intent: cls.Intent, Confidence: cls.Confidence, Articles: articles}, true
}

func (s *Service) lookupKB(ctx context.Context, cls Classification) []store.KBArticle {
	if cls.Confidence < kbConfidenceFloor {
		return nil
	}
	articles, err := s.kb.SearchByTag(ctx, cls.Intent, kbLimit)
	if err != nil {
		s.logger.Warnw("intent: kb lookup failed", "intent", cls.Intent, "err", err)
		return nil
	}
	return articles
}

// Dispose clears every intent row for callID; a reused cache key must
// never surface a stale suggestion for a later, unrelated call.
func (s *Service) Dispose(ctx context.Context, callID string) error {
	if err := s.intents.DeleteByCallID(ctx, callID); err != nil {
		return fmt.Errorf("intent: disposing callId=%s: %w", callID, err)
	}
	return nil
}

func trailingWindow(all []store.Utterance, n int) []store.Utterance {
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
