// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package disposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopCategories_KeepsTaxonomyMatchesOnly(t *testing.T) {
	got := topCategories([]string{"card_fraud", "made_up_label", "billing_dispute"})
	assert.Equal(t, []string{"card_fraud", "billing_dispute"}, got)
}

func TestTopCategories_CapsAtThree(t *testing.T) {
	got := topCategories([]string{"card_fraud", "billing_dispute", "account_access", "complaint"})
	assert.Len(t, got, 3)
	assert.NotContains(t, got, "complaint")
}

func TestTopCategories_EmptySuggestions(t *testing.T) {
	assert.Empty(t, topCategories(nil))
}

func TestSummarizerPromptNamesTaxonomy(t *testing.T) {
	for _, category := range Taxonomy {
		assert.Contains(t, summarizerSystemPrompt, category)
	}
}
