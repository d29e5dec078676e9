// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package disposition is the C8 component: on call_end it summarizes the
// full transcript into an issue/resolution/next-steps record for the agent
// desktop and CRM handoff.
package disposition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/store"
)

const summarizerModel = openai.ChatModelGPT4oMini

// Summary is the model's structured call-end output.
type Summary struct {
	Issue      string   `json:"issue"`
	Resolution string   `json:"resolution"`
	NextSteps  string   `json:"nextSteps"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories"`
}

// Service orchestrates call-end disposition: load transcript, summarize,
// persist idempotently, and report it to callers for SSE broadcast and
// transcript-consumer teardown.
type Service struct {
	client     openai.Client
	utterances store.UtteranceStore
	store      store.DispositionStore
	logger     commons.Logger
}

// NewService builds the Disposition component. apiKey is AppConfig.OpenAIAPIKey.
func NewService(apiKey string, utterances store.UtteranceStore, dispositions store.DispositionStore, logger commons.Logger) *Service {
	return &Service{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		utterances: utterances,
		store:      dispositions,
		logger:     logger,
	}
}

// Dispose summarizes callID's full transcript and persists the result.
// Repeat calls for an already-dispositioned callID return the existing row
// with created=false and never re-invoke the LLM.
func (s *Service) Dispose(ctx context.Context, callID string) (*store.Disposition, bool, error) {
	if existing, err := s.store.Get(ctx, callID); err == nil {
		return existing, false, nil
	}

	lines, err := s.utterances.ListOrdered(ctx, callID)
	if err != nil {
		return nil, false, fmt.Errorf("disposition: loading transcript callId=%s: %w", callID, err)
	}
	if len(lines) == 0 {
		return nil, false, fmt.Errorf("disposition: no transcript recorded for callId=%s", callID)
	}

	summary, err := s.summarize(ctx, lines)
	if err != nil {
		return nil, false, fmt.Errorf("disposition: summarizing callId=%s: %w", callID, err)
	}

	row := &store.Disposition{
		CallID:              callID,
		IssueSummary:        summary.Issue,
		Resolution:          summary.Resolution,
		NextSteps:           summary.NextSteps,
		Confidence:          summary.Confidence,
		SuggestedCategories: strings.Join(topCategories(summary.Categories), ","),
	}
	if err := s.store.Create(ctx, row); err != nil {
		return nil, false, fmt.Errorf("disposition: persisting callId=%s: %w", callID, err)
	}
	return row, true, nil
}

const llmTimeout = 10 * time.Second

func (s *Service) summarize(ctx context.Context, lines []store.Utterance) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	var sb strings.Builder
	for _, u := range lines {
		sb.WriteString(u.Speaker)
		sb.WriteString(": ")
		sb.WriteString(u.Text)
		sb.WriteString("\n")
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: summarizerModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarizerSystemPrompt),
			openai.UserMessage(sb.String()),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Summary{}, fmt.Errorf("chat completion returned no choices")
	}

	var summary Summary
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &summary); err != nil {
		return Summary{}, fmt.Errorf("parsing summary json: %w", err)
	}
	return summary, nil
}

// Taxonomy is the static category set dispositions are mapped onto; the
// model selects up to three.
var Taxonomy = []string{
	"billing_dispute",
	"account_access",
	"account_balance",
	"card_fraud",
	"card_replacement",
	"loan_inquiry",
	"payment_issue",
	"product_information",
	"technical_support",
	"complaint",
	"cancellation",
	"general_inquiry",
}

var taxonomySet = func() map[string]bool {
	m := make(map[string]bool, len(Taxonomy))
	for _, c := range Taxonomy {
		m[c] = true
	}
	return m
}()

// topCategories keeps at most three model-suggested categories, dropping
// anything outside the static taxonomy.
func topCategories(suggested []string) []string {
	out := make([]string, 0, 3)
	for _, c := range suggested {
		if taxonomySet[c] {
			out = append(out, c)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

var summarizerSystemPrompt = `You summarize a completed customer support call transcript.
Respond with a single compact JSON object with fields:
issue (string), resolution (string), nextSteps (string), confidence (0..1 float), categories (array of up to 3 strings).
categories must be chosen from this taxonomy, best match first: ` + strings.Join(Taxonomy, ", ") + `.
Do not include any other text.`
