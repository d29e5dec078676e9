// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package api is the C5 component: the App ingest endpoint and its sibling
// call-lifecycle routes. It validates and persists transcript fragments,
// assigns contiguous per-call seq values, triggers intent detection and KB
// lookup, and broadcasts to connected browsers through the SSE hub.
package api

import (
	"context"
	"net/http"
	"sync"
	"unicode"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/intent"
	"github.com/rapidaai/agent-assist/internal/sse"
	"github.com/rapidaai/agent-assist/internal/store"
)

// IntentService is the slice of the intent component the App API drives.
type IntentService interface {
	Classify(ctx context.Context, callID string) (intent.Update, bool)
	Dispose(ctx context.Context, callID string) error
}

// DispositionService produces the call-end summary. created=false means a
// previously stored disposition was returned without re-invoking the LLM.
type DispositionService interface {
	Dispose(ctx context.Context, callID string) (*store.Disposition, bool, error)
}

// SubscriptionControl steers the Transcript Consumer's per-call
// subscriptions (subscribe on first fragment, unsubscribe on call end) and
// relays the call_end control message to the rest of the pipeline.
type SubscriptionControl interface {
	RequestSubscribe(ctx context.Context, callID string)
	Unsubscribe(ctx context.Context, callID string)
	PublishCallEnd(ctx context.Context, callID string)
}

// Server wires the App API routes to their collaborators.
type Server struct {
	cfg    *config.AppConfig
	logger commons.Logger

	utterances     store.UtteranceStore
	intents        store.IntentStore
	kb             store.KBStore
	intentSvc      IntentService
	dispositionSvc DispositionService
	control        SubscriptionControl

	hub        *sse.Hub
	sseHandler *sse.Handler

	seqs    *seqCache
	reorder *reorderBuffer

	// inflight enforces one intent classification at a time per call
	// so a burst of fragments costs at most one LLM call.
	inflightMu sync.Mutex
	inflight   map[string]bool
}

// NewServer constructs the App API server.
func NewServer(cfg *config.AppConfig, utterances store.UtteranceStore, intents store.IntentStore, kb store.KBStore, intentSvc IntentService, dispositionSvc DispositionService, control SubscriptionControl, hub *sse.Hub, logger commons.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		utterances:     utterances,
		intents:        intents,
		kb:             kb,
		intentSvc:      intentSvc,
		dispositionSvc: dispositionSvc,
		control:        control,
		hub:            hub,
		sseHandler:     sse.NewHandler(hub, logger),
		seqs:           newSeqCache(),
		inflight:       make(map[string]bool),
	}
	s.reorder = newReorderBuffer(hub.Broadcast)
	return s
}

func init() {
	// callid: an opaque identifier, <= 128 bytes, printable, no whitespace.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("callid", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if len(s) == 0 || len(s) > 128 {
				return false
			}
			for _, r := range s {
				if unicode.IsSpace(r) || unicode.IsControl(r) {
					return false
				}
			}
			return true
		})
	}
}

// NewEngine builds a gin engine with the middleware the App API carries
// (CORS for the agent-desktop origin, recovery).
func NewEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))
	return engine
}

// RegisterRoutes mounts every App API route onto engine.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	api := engine.Group("/api")
	{
		api.POST("/transcripts/receive", s.ReceiveTranscript)
		api.GET("/transcripts/latest", s.LatestTranscript)
		api.POST("/calls/ingest-transcript", s.IngestTranscript)
		api.POST("/calls/end", s.EndCall)
		api.POST("/calls/:callId/dispose", s.DisposeCall)
		api.GET("/events/stream", s.sseHandler.Stream)
		api.GET("/health", s.Health)
	}
}

// Health answers 200 with {status:"ok"}.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
