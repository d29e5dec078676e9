// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// app-api serves the App ingest endpoint, the call-lifecycle routes, and
// the SSE event stream for the agent desktop. It also hosts the Transcript
// Consumer when deployed single-process, reacting to its own subscribe
// control messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/rapidaai/agent-assist/internal/api"
	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/disposition"
	"github.com/rapidaai/agent-assist/internal/intent"
	"github.com/rapidaai/agent-assist/internal/sse"
	"github.com/rapidaai/agent-assist/internal/store"
	"github.com/rapidaai/agent-assist/internal/transcript"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

const (
	shutdownGrace = 10 * time.Second
	dlqCapacity   = 50
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "app-api: %v\n", err)
		os.Exit(1)
	}
	logger := commons.NewApplicationLogger(cfg.Environment.Get(), cfg.LogFilePath)
	defer logger.Sync()

	if utils.IsEmpty(cfg.PostgresDSN) {
		logger.Fatalf("app-api: POSTGRES_DSN is required")
	}
	db, err := store.OpenPostgres(cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("app-api: %v", err)
	}

	b, err := bus.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatalf("app-api: constructing bus: %v", err)
	}
	defer b.Close()

	var osClient *opensearch.Client
	if len(cfg.OpenSearchAddresses) > 0 {
		osClient, err = opensearch.NewClient(opensearch.Config{
			Addresses: cfg.OpenSearchAddresses,
			Username:  cfg.OpenSearchUsername,
			Password:  cfg.OpenSearchPassword,
		})
		if err != nil {
			logger.Warnf("app-api: opensearch unavailable, kb queries degrade to postgres: %v", err)
			osClient = nil
		}
	}

	utterances := store.NewUtteranceStore(db, logger)
	intents := store.NewIntentStore(db, logger)
	dispositions := store.NewDispositionStore(db, logger)
	kb := store.NewKBStore(db, osClient, logger)

	var cache *intent.Cache
	if rb, ok := b.(*bus.RedisBus); ok {
		cache = intent.NewCache(rb.KV())
	}
	intentSvc := intent.NewService(intent.NewClassifier(cfg.AnthropicAPIKey), cache, utterances, intents, kb, logger)
	dispositionSvc := disposition.NewService(cfg.OpenAIAPIKey, utterances, dispositions, logger)

	hub := sse.NewHub(cfg.MaxConcurrentSSEClients, logger)
	control := transcript.NewControl(b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.RunCleanup(ctx.Done())

	// Host the Transcript Consumer in-process; it reacts to the control
	// messages this same API publishes on first fragments.
	forwarder := transcript.NewForwarder(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port), cfg.ASRProvider, logger)
	consumer := transcript.NewConsumer(b, forwarder, dlqCapacity, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("app-api: transcript consumer stopped", "err", err)
		}
	}()

	if cfg.Environment == utils.PRODUCTION {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := api.NewEngine()
	server := api.NewServer(cfg, utterances, intents, kb, intentSvc, dispositionSvc, control, hub, logger)
	server.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	go func() {
		logger.Infof("app-api: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("app-api: server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("app-api: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("app-api: forced shutdown after grace period: %v", err)
	}
	logger.Infof("app-api: stopped")
}
