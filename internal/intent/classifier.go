// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package intent is the C7 component: it classifies a call's running
// customer intent from its transcript so far and surfaces matching
// knowledge-base articles to the agent desktop.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/rapidaai/agent-assist/internal/store"
)

const classifierModel = anthropic.ModelClaude3_5HaikuLatest

// Classification is the LLM's structured answer for one utterance window.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classifier talks to Anthropic's Messages API, asking for a single-label
// intent classification over the recent transcript window.
type Classifier struct {
	client anthropic.Client
}

// NewClassifier builds a Classifier. apiKey comes from AppConfig.AnthropicAPIKey.
func NewClassifier(apiKey string) *Classifier {
	return &Classifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

const llmTimeout = 10 * time.Second

// Classify asks the model for the single best-fit intent label over
// utterances (already ordered, already compacted to the last N lines by the
// caller) and returns its label with a confidence in [0, 1].
func (c *Classifier) Classify(ctx context.Context, utterances []store.Utterance) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	prompt := buildPrompt(utterances)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     classifierModel,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("intent: anthropic classify request: %w", err)
	}

	text := concatText(msg)
	cls, err := parseClassification(text)
	if err != nil {
		return Classification{}, fmt.Errorf("intent: parsing classification response: %w", err)
	}
	return cls, nil
}

const systemPrompt = `You classify the customer's current intent in a live support call transcript.
Respond with a single compact JSON object: {"intent": "<short_snake_case_label>", "confidence": <0..1 float>}.
Do not include any other text.`

const maxPromptTokens = 1500

var promptEncoding = func() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return enc
}()

func buildPrompt(utterances []store.Utterance) string {
	// Drop the oldest lines until the window fits the token budget, so a
	// long call never blows up classification latency or cost.
	start := 0
	for start < len(utterances)-1 && countTokens(utterances[start:]) > maxPromptTokens {
		start++
	}

	var sb strings.Builder
	sb.WriteString("Transcript so far (oldest first):\n")
	for _, u := range utterances[start:] {
		sb.WriteString(u.Speaker)
		sb.WriteString(": ")
		sb.WriteString(u.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func countTokens(utterances []store.Utterance) int {
	total := 0
	for _, u := range utterances {
		if promptEncoding != nil {
			total += len(promptEncoding.Encode(u.Text, nil, nil))
		} else {
			total += len(u.Text) / 4
		}
		total += 4 // speaker tag + separators
	}
	return total
}

func concatText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func parseClassification(text string) (Classification, error) {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Classification{}, fmt.Errorf("no JSON object found in response")
	}
	var cls Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cls); err != nil {
		return Classification{}, err
	}
	return cls, nil
}
