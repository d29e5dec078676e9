// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/rapidaai/agent-assist/pkg/utils"
)

// AggregatorConfig carries the tunables of the ASR chunk-aggregation
// algorithm. Defaults follow the "normal-mode" column; any key may be
// overridden from the environment.
type AggregatorConfig struct {
	InitialBurstMs        int64
	MinChunkMs            int64
	MaxWaitMs             int64
	TimeoutFallbackMinMs  int64
	MaxChunkMs            int64
	KeepAlivePeriodMs     int64
	ProcessingTimerMs     int64
	FirstAudioDeadlineMs  int64
	MinTimeBetweenSendsMs int64
}

// AppConfig is the single configuration object threaded into every
// component constructor (NewXxx(cfg *config.AppConfig, logger commons.Logger, ...)).
type AppConfig struct {
	Environment utils.RapidaEnvironment
	LogFilePath string

	Port int

	// ASRProvider selects the ASR back-end: "deepgram", "awstranscribe", or "mock".
	ASRProvider string
	// ASRMaxReconnect bounds provider session reopen attempts per call.
	ASRMaxReconnect int
	// VADModelPath points to the Silero VAD ONNX model; empty disables
	// silence-skip and every chunk is sent.
	VADModelPath string
	// PubsubAdapter selects the Bus back-end: "stream-log" (Redis Streams) or "in-memory".
	PubsubAdapter string
	SupportExotel bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	OpenSearchAddresses []string
	OpenSearchUsername  string
	OpenSearchPassword  string

	DeepgramAPIKey string
	AWSRegion      string

	// TwilioAuthToken validates carrier status-callback signatures; empty
	// skips validation (local/dev only).
	TwilioAuthToken string

	AnthropicAPIKey string
	OpenAIAPIKey    string

	NativeProtocolJWTPublicKeyPEM string

	// IngestAckEveryN controls how often the gateway echoes a carrier-style
	// mark ack; IngestIdleCloseSec is the idle watchdog window.
	IngestAckEveryN    int
	IngestIdleCloseSec int

	// AppAPIBaseURL is where the Transcript Consumer forwards fragments.
	AppAPIBaseURL string

	MaxConcurrentSSEClients int

	Aggregator AggregatorConfig
}

// Load builds an AppConfig from environment variables (optionally
// overlaid with a YAML file at configPath). Unset keys fall back to
// documented defaults.
func Load(configPath string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &AppConfig{
		Environment:     utils.FromEnvironmentStr(v.GetString("ENVIRONMENT")),
		LogFilePath:     v.GetString("LOG_FILE_PATH"),
		Port:            v.GetInt("PORT"),
		ASRProvider:     strings.ToLower(v.GetString("ASR_PROVIDER")),
		ASRMaxReconnect: v.GetInt("ASR_MAX_RECONNECT"),
		VADModelPath:    v.GetString("VAD_MODEL_PATH"),
		PubsubAdapter:   strings.ToLower(v.GetString("PUBSUB_ADAPTER")),
		SupportExotel:   v.GetBool("SUPPORT_EXOTEL"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		PostgresDSN: v.GetString("POSTGRES_DSN"),

		OpenSearchAddresses: splitCSV(v.GetString("OPENSEARCH_ADDRESSES")),
		OpenSearchUsername:  v.GetString("OPENSEARCH_USERNAME"),
		OpenSearchPassword:  v.GetString("OPENSEARCH_PASSWORD"),

		DeepgramAPIKey: v.GetString("DEEPGRAM_API_KEY"),
		AWSRegion:      v.GetString("AWS_REGION"),

		TwilioAuthToken: v.GetString("TWILIO_AUTH_TOKEN"),

		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),

		NativeProtocolJWTPublicKeyPEM: v.GetString("NATIVE_JWT_PUBLIC_KEY"),

		IngestAckEveryN:    v.GetInt("INGEST_ACK_EVERY_N"),
		IngestIdleCloseSec: v.GetInt("INGEST_IDLE_CLOSE_SEC"),

		AppAPIBaseURL: v.GetString("APP_API_BASE_URL"),

		MaxConcurrentSSEClients: v.GetInt("MAX_CONCURRENT_SSE_CLIENTS"),

		Aggregator: AggregatorConfig{
			InitialBurstMs:        v.GetInt64("INITIAL_BURST_MS"),
			MinChunkMs:            v.GetInt64("MIN_CHUNK_MS"),
			MaxWaitMs:             v.GetInt64("MAX_WAIT_MS"),
			TimeoutFallbackMinMs:  v.GetInt64("TIMEOUT_FALLBACK_MIN_MS"),
			MaxChunkMs:            v.GetInt64("MAX_CHUNK_MS"),
			KeepAlivePeriodMs:     v.GetInt64("KEEPALIVE_PERIOD_MS"),
			ProcessingTimerMs:     v.GetInt64("PROCESSING_TIMER_MS"),
			FirstAudioDeadlineMs:  v.GetInt64("FIRST_AUDIO_DEADLINE_MS"),
			MinTimeBetweenSendsMs: v.GetInt64("MIN_TIME_BETWEEN_SENDS_MS"),
		},
	}

	if err := cfg.ApplyAggregatorOptions(utils.MapOption(v.GetStringMapString("AGGREGATOR_OPTIONS"))); err != nil {
		return nil, err
	}

	if cfg.ASRProvider == "" {
		cfg.ASRProvider = "mock"
	}
	if cfg.PubsubAdapter == "" {
		cfg.PubsubAdapter = "stream-log"
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", 3001)
	v.SetDefault("ASR_PROVIDER", "mock")
	v.SetDefault("PUBSUB_ADAPTER", "stream-log")
	v.SetDefault("SUPPORT_EXOTEL", false)

	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("MAX_CONCURRENT_SSE_CLIENTS", 20)

	v.SetDefault("ASR_MAX_RECONNECT", 3)
	v.SetDefault("INGEST_ACK_EVERY_N", 50)
	v.SetDefault("INGEST_IDLE_CLOSE_SEC", 60)
	v.SetDefault("APP_API_BASE_URL", "http://127.0.0.1:3000")

	// Normal-mode aggregator defaults per the chunk-aggregation protocol table.
	v.SetDefault("INITIAL_BURST_MS", 250)
	v.SetDefault("MIN_CHUNK_MS", 100)
	v.SetDefault("MAX_WAIT_MS", 200)
	v.SetDefault("TIMEOUT_FALLBACK_MIN_MS", 20)
	v.SetDefault("MAX_CHUNK_MS", 250)
	v.SetDefault("KEEPALIVE_PERIOD_MS", 3000)
	v.SetDefault("PROCESSING_TIMER_MS", 100)
	v.SetDefault("FIRST_AUDIO_DEADLINE_MS", 1000)
	v.SetDefault("MIN_TIME_BETWEEN_SENDS_MS", 50)
}

func splitCSV(s string) []string {
	if utils.IsEmpty(s) {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyAggregatorOptions overlays a string-keyed option bag (per-tenant
// overrides carried in config files or assistant metadata) onto the
// aggregator settings, coercing string values onto the typed fields.
func (c *AppConfig) ApplyAggregatorOptions(opts utils.MapOption) error {
	if len(opts) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c.Aggregator,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("config: building aggregator option decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("config: applying aggregator options: %w", err)
	}
	return nil
}

// KeepAliveInterval is a convenience accessor used by the ASR call worker.
func (c AggregatorConfig) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAlivePeriodMs) * time.Millisecond
}
