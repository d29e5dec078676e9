// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/store"
)

func TestParseClassification(t *testing.T) {
	cls, err := parseClassification(`{"intent":"card_fraud","confidence":0.92}`)
	require.NoError(t, err)
	assert.Equal(t, "card_fraud", cls.Intent)
	assert.InDelta(t, 0.92, cls.Confidence, 1e-9)

	// Models occasionally wrap the object in prose; the parser extracts it.
	cls, err = parseClassification("Sure, here you go:\n{\"intent\":\"account_balance\",\"confidence\":0.7}\nThanks!")
	require.NoError(t, err)
	assert.Equal(t, "account_balance", cls.Intent)

	_, err = parseClassification("no json here")
	assert.Error(t, err)
}

func TestBuildPrompt_OrdersOldestFirst(t *testing.T) {
	prompt := buildPrompt([]store.Utterance{
		{Speaker: store.SpeakerAgent, Text: "how can I help"},
		{Speaker: store.SpeakerCustomer, Text: "my card was stolen"},
	})
	agentIdx := strings.Index(prompt, "agent: how can I help")
	customerIdx := strings.Index(prompt, "customer: my card was stolen")
	require.GreaterOrEqual(t, agentIdx, 0)
	require.GreaterOrEqual(t, customerIdx, 0)
	assert.Less(t, agentIdx, customerIdx)
}

func TestBuildPrompt_DropsOldestOverTokenBudget(t *testing.T) {
	long := strings.Repeat("word ", 2000) // well past maxPromptTokens alone
	utterances := []store.Utterance{
		{Speaker: store.SpeakerCustomer, Text: long},
		{Speaker: store.SpeakerCustomer, Text: "the part that matters"},
	}
	prompt := buildPrompt(utterances)
	assert.Contains(t, prompt, "the part that matters")
	assert.NotContains(t, prompt, long)
}

func TestTrailingWindow(t *testing.T) {
	all := make([]store.Utterance, 20)
	for i := range all {
		all[i].Seq = uint64(i + 1)
	}
	window := trailingWindow(all, windowSize)
	require.Len(t, window, windowSize)
	assert.Equal(t, uint64(9), window[0].Seq)
	assert.Equal(t, uint64(20), window[len(window)-1].Seq)
}
