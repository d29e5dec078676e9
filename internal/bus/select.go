// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package bus

import (
	"fmt"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
)

// FromConfig selects the bus backend named by PUBSUB_ADAPTER and constructs
// it once; the returned adapter is the process's only bus connection pair
// and must be passed into every component as a capability.
func FromConfig(cfg *config.AppConfig, logger commons.Logger) (Bus, error) {
	switch cfg.PubsubAdapter {
	case "stream-log", "":
		return New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger), nil
	case "in-memory":
		return NewMemoryBus(logger), nil
	default:
		return nil, fmt.Errorf("bus: unknown PUBSUB_ADAPTER %q", cfg.PubsubAdapter)
	}
}
