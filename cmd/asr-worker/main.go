// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// asr-worker consumes audio_stream, drives the streaming ASR provider per
// call, and republishes transcript fragments onto transcript.<callId>.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	transcribestreaming "github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/google/uuid"

	"github.com/rapidaai/agent-assist/internal/asr"
	"github.com/rapidaai/agent-assist/internal/asr/providers/awstranscribe"
	"github.com/rapidaai/agent-assist/internal/asr/providers/deepgram"
	"github.com/rapidaai/agent-assist/internal/asr/providers/mock"
	"github.com/rapidaai/agent-assist/internal/audio"
	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "asr-worker: %v\n", err)
		os.Exit(1)
	}
	logger := commons.NewApplicationLogger(cfg.Environment.Get(), cfg.LogFilePath)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatalf("asr-worker: constructing bus: %v", err)
	}
	defer b.Close()

	factory, err := providerFactory(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("asr-worker: %v", err)
	}

	var vad *audio.SilenceDetector
	if !utils.IsEmpty(cfg.VADModelPath) {
		vad, err = audio.NewSilenceDetector(cfg.VADModelPath, 16000)
		if err != nil {
			logger.Fatalf("asr-worker: %v", err)
		}
		defer vad.Close()
	}

	aggCfg := asr.ApplyTimings(cfg.ASRProvider, cfg.Aggregator)
	consumerName := "asr-" + uuid.NewString()

	worker := asr.NewWorker(b, factory, aggCfg, cfg.ASRMaxReconnect, consumerName, vad, logger)
	logger.Infof("asr-worker: starting provider=%s consumer=%s", cfg.ASRProvider, consumerName)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("asr-worker: %v", err)
	}
	logger.Infof("asr-worker: stopped")
}

func providerFactory(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) (asr.ProviderFactory, error) {
	switch cfg.ASRProvider {
	case "deepgram":
		if utils.IsEmpty(cfg.DeepgramAPIKey) {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY is required for ASR_PROVIDER=deepgram")
		}
		return deepgram.NewFactory(cfg.DeepgramAPIKey, logger), nil
	case "awstranscribe":
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
		if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(ak, sk, os.Getenv("AWS_SESSION_TOKEN"))))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return awstranscribe.NewFactory(transcribestreaming.NewFromConfig(awsCfg), logger), nil
	case "mock", "":
		return mock.NewFactory("hello world", 5), nil
	default:
		return nil, fmt.Errorf("unknown ASR_PROVIDER %q", cfg.ASRProvider)
	}
}
