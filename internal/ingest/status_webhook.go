// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/store"
)

// terminalCallStatuses are the carrier statuses that resolve a call context.
// The webhook can arrive after the media stream itself has already closed,
// which is exactly why call contexts outlive their connection.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// StatusWebhook receives the carrier's asynchronous call-status callbacks
// (Twilio-style form posts) and completes the matching call context.
type StatusWebhook struct {
	validator *twilioclient.RequestValidator
	contexts  store.CallContextStore
	logger    commons.Logger
}

// NewStatusWebhook constructs the webhook handler. authToken may be empty,
// in which case signature validation is skipped (local/dev only).
func NewStatusWebhook(authToken string, contexts store.CallContextStore, logger commons.Logger) *StatusWebhook {
	w := &StatusWebhook{contexts: contexts, logger: logger}
	if authToken != "" {
		v := twilioclient.NewRequestValidator(authToken)
		w.validator = &v
	}
	return w
}

// Handle is POST /v1/call-status.
func (w *StatusWebhook) Handle(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	if w.validator != nil {
		params := make(map[string]string, len(c.Request.PostForm))
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
		url := "https://" + c.Request.Host + c.Request.URL.RequestURI()
		if !w.validator.Validate(url, params, c.GetHeader("X-Twilio-Signature")) {
			w.logger.Warnw("ingest: rejecting status callback with bad signature", "remote", c.Request.RemoteAddr)
			c.JSON(http.StatusForbidden, gin.H{"ok": false})
			return
		}
	}

	callID := c.Request.PostForm.Get("CallSid")
	status := c.Request.PostForm.Get("CallStatus")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	if terminalCallStatuses[status] && w.contexts != nil {
		if err := w.contexts.CompleteByCallID(c.Request.Context(), callID); err != nil {
			w.logger.Warnw("ingest: completing call context from status callback failed", "callId", callID, "err", err)
		}
	}
	w.logger.Debugf("ingest: status callback callId=%s status=%s", callID, status)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
