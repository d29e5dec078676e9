// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.ASRProvider)
	assert.Equal(t, "stream-log", cfg.PubsubAdapter)
	assert.Equal(t, 20, cfg.MaxConcurrentSSEClients)
	assert.Equal(t, 3, cfg.ASRMaxReconnect)
	assert.Equal(t, 50, cfg.IngestAckEveryN)

	// Normal-mode aggregator defaults.
	assert.Equal(t, int64(250), cfg.Aggregator.InitialBurstMs)
	assert.Equal(t, int64(100), cfg.Aggregator.MinChunkMs)
	assert.Equal(t, int64(200), cfg.Aggregator.MaxWaitMs)
	assert.Equal(t, int64(20), cfg.Aggregator.TimeoutFallbackMinMs)
	assert.Equal(t, int64(250), cfg.Aggregator.MaxChunkMs)
	assert.Equal(t, int64(100), cfg.Aggregator.ProcessingTimerMs)
	assert.Equal(t, int64(1000), cfg.Aggregator.FirstAudioDeadlineMs)
}

func TestApplyAggregatorOptions(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.ApplyAggregatorOptions(map[string]string{
		"minchunkms": "300",
		"maxwaitms":  "400",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), cfg.Aggregator.MinChunkMs)
	assert.Equal(t, int64(400), cfg.Aggregator.MaxWaitMs)
	// Untouched fields keep their defaults.
	assert.Equal(t, int64(250), cfg.Aggregator.InitialBurstMs)

	err = cfg.ApplyAggregatorOptions(map[string]string{"minchunkms": "not-a-number"})
	assert.Error(t, err)
}
