// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// ingest-gateway terminates carrier and native audio WebSockets and
// publishes normalized AudioFrames onto the bus.
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

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/ingest"
	"github.com/rapidaai/agent-assist/internal/store"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest-gateway: %v\n", err)
		os.Exit(1)
	}
	logger := commons.NewApplicationLogger(cfg.Environment.Get(), cfg.LogFilePath)
	defer logger.Sync()

	b, err := bus.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatalf("ingest-gateway: constructing bus: %v", err)
	}
	defer b.Close()

	var contexts store.CallContextStore
	if !utils.IsEmpty(cfg.PostgresDSN) {
		db, err := store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("ingest-gateway: opening postgres: %v", err)
		}
		contexts = store.NewCallContextStore(db, logger)
	}

	var auth *ingest.NativeAuthenticator
	if !utils.IsEmpty(cfg.NativeProtocolJWTPublicKeyPEM) {
		auth, err = ingest.NewNativeAuthenticator([]byte(cfg.NativeProtocolJWTPublicKeyPEM))
		if err != nil {
			logger.Fatalf("ingest-gateway: %v", err)
		}
	}

	if cfg.Environment == utils.PRODUCTION {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	gateway := ingest.NewGateway(cfg, b, contexts, auth, logger)
	gateway.RegisterRoutes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("ingest-gateway: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("ingest-gateway: server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("ingest-gateway: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("ingest-gateway: forced shutdown after grace period: %v", err)
	}
	logger.Infof("ingest-gateway: stopped")
}
