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

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/sse"
	"github.com/rapidaai/agent-assist/internal/store"
)

type endCallRequest struct {
	CallID string `json:"callId" binding:"required,callid"`
}

// EndCall runs the call-end sequence synchronously: summarize,
// persist, broadcast call_end, then tear down the call's server-side state.
// Repeat requests return the stored disposition without re-invoking the LLM
// and without a second broadcast.
func (s *Server) EndCall(c *gin.Context) {
	var req endCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	row, created, err := s.dispositionSvc.Dispose(ctx, req.CallID)
	if err != nil {
		s.logger.Errorw("api: call end failed", "callId", req.CallID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	if created {
		s.hub.Broadcast(sse.Event{
			CallID: req.CallID,
			Name:   "call_end",
			Data:   sse.MarshalOrLog(s.logger, row),
		})
		// The ASR worker finishes the provider session off this message
		// even when the end request did not come through the carrier.
		s.control.PublishCallEnd(ctx, req.CallID)
		s.teardownCall(ctx, req.CallID)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "disposition": row})
}

// DisposeCall clears every piece of server-side state for a call:
// utterances, intent rows, seq counter, reorder state, and the
// transcript-consumer subscription. After a dispose, nothing previously
// associated with the call can surface again.
func (s *Server) DisposeCall(c *gin.Context) {
	callID := c.Param("callId")
	ctx := c.Request.Context()

	if err := s.utterances.DeleteByCallID(ctx, callID); err != nil {
		s.logger.Errorw("api: dispose failed clearing utterances", "callId", callID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}
	s.teardownCall(ctx, callID)

	c.JSON(http.StatusOK, gin.H{"ok": true, "callId": callID})
}

// teardownCall is the shared cleanup behind call end and dispose.
func (s *Server) teardownCall(ctx context.Context, callID string) {
	if err := s.intentSvc.Dispose(ctx, callID); err != nil {
		s.logger.Warnw("api: clearing intents failed", "callId", callID, "err", err)
	}
	s.seqs.Invalidate(callID)
	s.reorder.Remove(callID)
	s.control.Unsubscribe(ctx, callID)
}

// LatestTranscript returns the ordered utterances plus the call's current
// intent and matching KB articles.
func (s *Server) LatestTranscript(c *gin.Context) {
	callID := c.Query("callId")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "callId is required"})
		return
	}
	ctx := c.Request.Context()

	utterances, err := s.utterances.ListOrdered(ctx, callID)
	if err != nil {
		s.logger.Errorw("api: loading latest transcript failed", "callId", callID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	resp := gin.H{
		"ok":         true,
		"callId":     callID,
		"utterances": utterances,
		"intent":     nil,
		"articles":   []store.KBArticle{},
	}

	current, err := s.intents.Latest(ctx, callID)
	if err != nil {
		if !errors.Is(err, commons.ErrNotFound) {
			s.logger.Warnw("api: loading current intent failed", "callId", callID, "err", err)
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["intent"] = current

	if current.Label != store.IntentUnknown {
		articles, kerr := s.kb.SearchByTag(ctx, current.Label, 3)
		if kerr != nil {
			s.logger.Warnw("api: kb lookup failed", "intent", current.Label, "err", kerr)
		} else {
			resp["articles"] = articles
		}
	}
	c.JSON(http.StatusOK, resp)
}
