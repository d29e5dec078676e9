// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// transcript-consumer forwards transcript.<callId> bus streams to the App
// API's ingest endpoint, subscribing only in reaction to activity.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/transcript"
)

const dlqCapacity = 50

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcript-consumer: %v\n", err)
		os.Exit(1)
	}
	logger := commons.NewApplicationLogger(cfg.Environment.Get(), cfg.LogFilePath)
	defer logger.Sync()

	b, err := bus.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatalf("transcript-consumer: constructing bus: %v", err)
	}
	defer b.Close()

	forwarder := transcript.NewForwarder(cfg.AppAPIBaseURL, cfg.ASRProvider, logger)
	consumer := transcript.NewConsumer(b, forwarder, dlqCapacity, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("transcript-consumer: starting, forwarding to %s", cfg.AppAPIBaseURL)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("transcript-consumer: %v", err)
	}
	logger.Infof("transcript-consumer: stopped")
}
