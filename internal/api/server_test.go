// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/intent"
	"github.com/rapidaai/agent-assist/internal/sse"
	"github.com/rapidaai/agent-assist/internal/store"
)

type stubIntentService struct {
	mu       sync.Mutex
	disposed []string
}

func (s *stubIntentService) Classify(context.Context, string) (intent.Update, bool) {
	return intent.Update{}, false
}

func (s *stubIntentService) Dispose(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = append(s.disposed, callID)
	return nil
}

func (s *stubIntentService) disposedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.disposed...)
}

type stubDispositionService struct {
	mu    sync.Mutex
	rows  map[string]*store.Disposition
	calls int
}

func (s *stubDispositionService) Dispose(_ context.Context, callID string) (*store.Disposition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]*store.Disposition)
	}
	if row, ok := s.rows[callID]; ok {
		return row, false, nil
	}
	s.calls++
	row := &store.Disposition{CallID: callID, IssueSummary: "summarized", Confidence: 0.9}
	s.rows[callID] = row
	return row, true, nil
}

type stubControl struct {
	mu     sync.Mutex
	subs   []string
	unsubs []string
	ended  []string
}

func (s *stubControl) RequestSubscribe(_ context.Context, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, callID)
}

func (s *stubControl) Unsubscribe(_ context.Context, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, callID)
}

func (s *stubControl) PublishCallEnd(_ context.Context, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, callID)
}

type stubKB struct {
	articles []store.KBArticle
}

func (s *stubKB) SearchByTag(context.Context, string, int) ([]store.KBArticle, error) {
	return s.articles, nil
}

type testHarness struct {
	server     *Server
	engine     *gin.Engine
	hub        *sse.Hub
	utterances store.UtteranceStore
	intents    store.IntentStore
	intentSvc  *stubIntentService
	dispo      *stubDispositionService
	control    *stubControl
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := commons.NewApplicationLogger("development", "")

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.Utterance{}, &store.Intent{}))

	h := &testHarness{
		hub:        sse.NewHub(20, logger),
		utterances: store.NewUtteranceStore(db, logger),
		intents:    store.NewIntentStore(db, logger),
		intentSvc:  &stubIntentService{},
		dispo:      &stubDispositionService{},
		control:    &stubControl{},
	}
	h.server = NewServer(&config.AppConfig{}, h.utterances, h.intents, &stubKB{
		articles: []store.KBArticle{{ID: "kb-1", Title: "Reset your password", Score: 1}},
	}, h.intentSvc, h.dispo, h.control, h.hub, logger)
	h.engine = gin.New()
	h.server.RegisterRoutes(h.engine)
	return h
}

func (h *testHarness) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *testHarness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func drainEvents(events <-chan sse.Event, name string, wait time.Duration) []sse.Event {
	deadline := time.After(wait)
	var out []sse.Event
	for {
		select {
		case ev := <-events:
			if ev.Name == name {
				out = append(out, ev)
			}
		case <-deadline:
			return out
		}
	}
}

func TestIngestTranscript_AssignsContiguousSeq(t *testing.T) {
	h := newTestHarness(t)

	for i := 0; i < 3; i++ {
		w := h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C1", "text": "line", "ts": 100 * i})
		require.Equal(t, http.StatusOK, w.Code)
	}

	rows, err := h.utterances.ListOrdered(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, uint64(i+1), row.Seq)
	}
}

func TestIngestTranscript_RejectsMissingFields(t *testing.T) {
	h := newTestHarness(t)
	w := h.post(t, "/api/calls/ingest-transcript", gin.H{"text": "no call id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestTranscript_SpeakerHeuristic(t *testing.T) {
	h := newTestHarness(t)

	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C2", "text": "Agent: how can I help"})
	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C2", "text": "Customer: my card was stolen"})
	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C2", "text": "hold on please"})

	rows, err := h.utterances.ListOrdered(context.Background(), "C2")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, store.SpeakerAgent, rows[0].Speaker)
	assert.Equal(t, "how can I help", rows[0].Text)
	assert.Equal(t, store.SpeakerCustomer, rows[1].Speaker)
	assert.Equal(t, store.SpeakerUnknown, rows[2].Speaker)
}

// Duplicate deliveries of the same (callId, seq, text) persist one row
// and broadcast exactly one transcript_line.
func TestIngestTranscript_IdempotentDuplicates(t *testing.T) {
	h := newTestHarness(t)

	events, unregister := h.hub.Register("observer", "C3")
	defer unregister()

	body := gin.H{"callId": "C3", "text": "foo", "seq": 1, "ts": 10}
	for i := 0; i < 3; i++ {
		w := h.post(t, "/api/calls/ingest-transcript", body)
		require.Equal(t, http.StatusOK, w.Code)
	}

	rows, err := h.utterances.ListOrdered(context.Background(), "C3")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "foo", rows[0].Text)

	lines := drainEvents(events, "transcript_line", 400*time.Millisecond)
	assert.Len(t, lines, 1)
}

func TestIngestTranscript_RequestsSubscriptionOnFirstFragment(t *testing.T) {
	h := newTestHarness(t)

	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C4", "text": "first"})
	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C4", "text": "second"})
	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C4", "text": "third"})

	h.control.mu.Lock()
	defer h.control.mu.Unlock()
	assert.Equal(t, []string{"C4", "C4"}, h.control.subs) // seq 1 and 2 only
}

func TestReceiveTranscript_SkipsPartialsAndEmptyFinals(t *testing.T) {
	h := newTestHarness(t)

	w := h.post(t, "/api/transcripts/receive", gin.H{"callId": "C5", "transcript": "partial words", "asr_service": "deepgram", "isFinal": false})
	require.Equal(t, http.StatusOK, w.Code)

	// The ASR worker's stream-termination marker: empty final.
	w = h.post(t, "/api/transcripts/receive", gin.H{"callId": "C5", "transcript": "", "asr_service": "deepgram", "isFinal": true})
	require.Equal(t, http.StatusOK, w.Code)

	rows, err := h.utterances.ListOrdered(context.Background(), "C5")
	require.NoError(t, err)
	assert.Empty(t, rows)

	w = h.post(t, "/api/transcripts/receive", gin.H{"callId": "C5", "transcript": "hello world", "asr_service": "deepgram", "isFinal": true, "timestamp": 1234})
	require.Equal(t, http.StatusOK, w.Code)

	rows, err = h.utterances.ListOrdered(context.Background(), "C5")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(1), rows[0].Seq)
}

func TestEndCall_IdempotentAndBroadcastsOnce(t *testing.T) {
	h := newTestHarness(t)
	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C6", "text": "my account is locked"})

	events, unregister := h.hub.Register("observer", "C6")
	defer unregister()

	w := h.post(t, "/api/calls/end", gin.H{"callId": "C6"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.post(t, "/api/calls/end", gin.H{"callId": "C6"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, h.dispo.calls)
	ends := drainEvents(events, "call_end", 200*time.Millisecond)
	assert.Len(t, ends, 1)

	assert.Equal(t, []string{"C6"}, h.intentSvc.disposedCalls())
	h.control.mu.Lock()
	assert.Equal(t, []string{"C6"}, h.control.unsubs)
	assert.Equal(t, []string{"C6"}, h.control.ended)
	h.control.mu.Unlock()
}

// Dispose clears utterances and intents so nothing from the old call
// surfaces afterwards.
func TestDisposeCall_ClearsServerSideState(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C7", "text": "Customer: someone stole my card"})
	require.NoError(t, h.intents.Append(ctx, &store.Intent{CallID: "C7", Label: "card_fraud", Confidence: 0.9}))

	w := h.post(t, "/api/calls/C7/dispose", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	rows, err := h.utterances.ListOrdered(ctx, "C7")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []string{"C7"}, h.intentSvc.disposedCalls())

	resp := h.get(t, "/api/transcripts/latest?callId=C7")
	require.Equal(t, http.StatusOK, resp.Code)
	var parsed struct {
		Utterances []store.Utterance `json:"utterances"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &parsed))
	assert.Empty(t, parsed.Utterances)
}

func TestLatestTranscript_IncludesIntentAndArticles(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.post(t, "/api/calls/ingest-transcript", gin.H{"callId": "C8", "text": "I forgot my password"})
	require.NoError(t, h.intents.Append(ctx, &store.Intent{CallID: "C8", Label: "account_access", Confidence: 0.8}))

	resp := h.get(t, "/api/transcripts/latest?callId=C8")
	require.Equal(t, http.StatusOK, resp.Code)

	var parsed struct {
		Utterances []store.Utterance `json:"utterances"`
		Intent     *store.Intent     `json:"intent"`
		Articles   []store.KBArticle `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &parsed))
	require.Len(t, parsed.Utterances, 1)
	require.NotNil(t, parsed.Intent)
	assert.Equal(t, "account_access", parsed.Intent.Label)
	require.Len(t, parsed.Articles, 1)
	assert.Equal(t, "kb-1", parsed.Articles[0].ID)
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t)
	resp := h.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}
