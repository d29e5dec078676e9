// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import "github.com/rapidaai/agent-assist/internal/config"

// providerTimings are the provider-dependent aggregator defaults. The
// selected provider's column must be confirmed empirically against the
// vendor's actual chunk floor; these are the contract defaults.
type providerTimings struct {
	initialBurstMs       int64
	minChunkMs           int64
	maxWaitMs            int64
	timeoutFallbackMinMs int64
	maxChunkMs           int64
}

var (
	timingsP1 = providerTimings{250, 100, 200, 20, 250}  // deepgram, mock
	timingsP2 = providerTimings{500, 300, 400, 300, 600} // awstranscribe
)

// ApplyTimings swaps the aggregator's provider-dependent fields over to the
// named provider's column. A field the operator overrode away from the
// low-latency default is left alone, so environment tuning always wins.
func ApplyTimings(provider string, cfg config.AggregatorConfig) config.AggregatorConfig {
	if provider != "awstranscribe" {
		return cfg
	}
	if cfg.InitialBurstMs == timingsP1.initialBurstMs {
		cfg.InitialBurstMs = timingsP2.initialBurstMs
	}
	if cfg.MinChunkMs == timingsP1.minChunkMs {
		cfg.MinChunkMs = timingsP2.minChunkMs
	}
	if cfg.MaxWaitMs == timingsP1.maxWaitMs {
		cfg.MaxWaitMs = timingsP2.maxWaitMs
	}
	if cfg.TimeoutFallbackMinMs == timingsP1.timeoutFallbackMinMs {
		cfg.TimeoutFallbackMinMs = timingsP2.timeoutFallbackMinMs
	}
	if cfg.MaxChunkMs == timingsP1.maxChunkMs {
		cfg.MaxChunkMs = timingsP2.maxChunkMs
	}
	return cfg
}
