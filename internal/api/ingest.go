// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/sse"
	"github.com/rapidaai/agent-assist/internal/store"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

// ingestTranscriptRequest is the body of POST /api/calls/ingest-transcript.
type ingestTranscriptRequest struct {
	CallID  string  `json:"callId" binding:"required,callid"`
	Text    string  `json:"text" binding:"required"`
	Ts      int64   `json:"ts"`
	Seq     *uint64 `json:"seq"`
	Speaker string  `json:"speaker" binding:"omitempty,oneof=customer agent unknown"`
}

// receiveTranscriptRequest is the body of POST /api/transcripts/receive: an
// external ASR's native payload, normalized here.
type receiveTranscriptRequest struct {
	CallID     string `json:"callId" binding:"required,callid"`
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id"`
	ASRService string `json:"asr_service"`
	Timestamp  int64  `json:"timestamp"`
	IsFinal    bool   `json:"isFinal"`
}

// fragment is the normalized form both ingest routes reduce to.
type fragment struct {
	callID  string
	text    string
	tsMs    int64
	seq     *uint64
	speaker string
	isFinal bool
}

// IngestTranscript validates and persists one transcript fragment, then
// kicks off the async intent/KB work and the SSE broadcast.
func (s *Server) IngestTranscript(c *gin.Context) {
	var req ingestTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	seq, err := s.ingestFragment(c.Request.Context(), fragment{
		callID:  req.CallID,
		text:    req.Text,
		tsMs:    req.Ts,
		seq:     req.Seq,
		speaker: req.Speaker,
		isFinal: true,
	})
	if err != nil {
		s.logger.Errorw("api: ingest-transcript failed", "callId", req.CallID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "callId": req.CallID, "seq": seq})
}

// ReceiveTranscript accepts an external ASR's native payload. Partials are
// not persisted (only finals become utterances); an empty final is the ASR
// worker's stream-termination marker and is acknowledged without creating a
// row.
func (s *Server) ReceiveTranscript(c *gin.Context) {
	var req receiveTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if !req.IsFinal || utils.IsEmpty(req.Transcript) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "callId": req.CallID, "seq": 0})
		return
	}

	seq, err := s.ingestFragment(c.Request.Context(), fragment{
		callID:  req.CallID,
		text:    req.Transcript,
		tsMs:    req.Timestamp,
		isFinal: req.IsFinal,
	})
	if err != nil {
		s.logger.Errorw("api: transcripts/receive failed", "callId", req.CallID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "callId": req.CallID, "seq": seq})
}

// ingestFragment is the shared path behind both ingest routes: assign seq,
// classify speaker, upsert, kick off intent, broadcast. The persisted upsert
// and the SSE broadcast are idempotent for a true duplicate (same callId,
// seq, text): the row is unchanged and no second transcript_line goes out.
func (s *Server) ingestFragment(ctx context.Context, f fragment) (uint64, error) {
	speaker, text := classifySpeaker(f.speaker, f.text)

	var seq uint64
	var err error
	if f.seq != nil {
		seq = *f.seq
		s.seqs.Observe(f.callID, seq)
	} else {
		seq, err = s.seqs.Next(ctx, f.callID, func(fetchCtx context.Context) (uint64, error) {
			return s.utterances.MaxSeq(fetchCtx, f.callID)
		})
		if err != nil {
			return 0, err
		}
	}

	if existing, gerr := s.utterances.Get(ctx, f.callID, seq); gerr == nil {
		if existing.Text == text {
			return seq, nil // true duplicate: same row, no second SSE
		}
	} else if !errors.Is(gerr, commons.ErrNotFound) {
		s.logger.Warnw("api: duplicate pre-check failed, proceeding with upsert", "callId", f.callID, "seq", seq, "err", gerr)
	}

	if err := s.utterances.Upsert(ctx, &store.Utterance{
		CallID:  f.callID,
		Seq:     seq,
		Text:    text,
		Speaker: speaker,
		TsMs:    f.tsMs,
	}); err != nil {
		return 0, err
	}

	s.classifyAsync(f.callID)
	s.broadcastLine(f.callID, seq, text, speaker, f.tsMs, f.isFinal)

	// First fragment for a new call: ask the Transcript Consumer to start
	// forwarding this call's bus stream too.
	if seq <= 2 {
		s.control.RequestSubscribe(ctx, f.callID)
	}
	return seq, nil
}

// classifySpeaker applies the prefix heuristic when the caller did not tag a
// speaker: a leading "Agent:" or "Customer:" token decides it, anything
// else is unknown. The prefix token is stripped from the stored text.
func classifySpeaker(declared, text string) (string, string) {
	if declared != "" {
		return declared, text
	}
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "agent:"):
		return store.SpeakerAgent, strings.TrimSpace(trimmed[len("agent:"):])
	case strings.HasPrefix(lower, "customer:"):
		return store.SpeakerCustomer, strings.TrimSpace(trimmed[len("customer:"):])
	default:
		return store.SpeakerUnknown, text
	}
}

// classifyAsync runs intent detection off the request path with at most one
// classification in flight per call; a second fragment arriving mid-flight
// is covered by the next one.
func (s *Server) classifyAsync(callID string) {
	s.inflightMu.Lock()
	if s.inflight[callID] {
		s.inflightMu.Unlock()
		return
	}
	s.inflight[callID] = true
	s.inflightMu.Unlock()

	utils.Go(context.Background(), func() {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, callID)
			s.inflightMu.Unlock()
		}()

		update, ok := s.intentSvc.Classify(context.Background(), callID)
		if !ok {
			return
		}
		s.hub.Broadcast(sse.Event{
			CallID: callID,
			Name:   "intent_update",
			Data: sse.MarshalOrLog(s.logger, gin.H{
				"callId":     callID,
				"intent":     update.Intent,
				"confidence": update.Confidence,
				"articles":   update.Articles,
			}),
		})
	})
}

func (s *Server) broadcastLine(callID string, seq uint64, text, speaker string, tsMs int64, isFinal bool) {
	s.reorder.Offer(callID, seq, sse.Event{
		CallID: callID,
		Name:   "transcript_line",
		Data: sse.MarshalOrLog(s.logger, gin.H{
			"callId":  callID,
			"seq":     seq,
			"text":    text,
			"speaker": speaker,
			"ts":      tsMs,
			"isFinal": isFinal,
		}),
	})
}
