// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transcript

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/pkg/utils"
)

const (
	forwardTimeout = 30 * time.Second
	retryCount     = 5
	retryWaitMin   = 200 * time.Millisecond
	retryWaitMax   = 5 * time.Second
)

// receivePayload is the body shape expected by POST /api/transcripts/receive,
// the external ASR-native normalization entrypoint.
type receivePayload struct {
	CallID     string  `json:"callId"`
	Transcript string  `json:"transcript"`
	SessionID  string  `json:"session_id,omitempty"`
	ASRService string  `json:"asr_service"`
	Timestamp  int64   `json:"timestamp"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Forwarder sends transcript fragments to the App ingest endpoint over
// HTTP, leaning on resty's built-in retry/backoff rather than a hand-rolled
// retry loop.
type Forwarder struct {
	client     *resty.Client
	asrService string
}

// NewForwarder builds a Forwarder targeting baseURL (the App API's root).
func NewForwarder(baseURL, asrService string, logger commons.Logger) *Forwarder {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(forwardTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitMin).
		SetRetryMaxWaitTime(retryWaitMax).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader(utils.HEADER_SOURCE_KEY, "transcript-consumer")
	client.SetLogger(restyLoggerAdapter{logger})
	return &Forwarder{client: client, asrService: asrService}
}

// Forward posts one transcript fragment. A non-nil error means every retry
// was exhausted; the caller must leave the originating bus message un-acked
// so it is redelivered.
func (f *Forwarder) Forward(ctx context.Context, callID, text string, tsMs int64, isFinal bool, confidence float64) error {
	body := receivePayload{
		CallID:     callID,
		Transcript: text,
		ASRService: f.asrService,
		Timestamp:  tsMs,
		IsFinal:    isFinal,
		Confidence: confidence,
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/transcripts/receive")
	if err != nil {
		return fmt.Errorf("transcript: forwarding callId=%s: %w", callID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("transcript: forwarding callId=%s: app api returned %s", callID, resp.Status())
	}
	return nil
}

// restyLoggerAdapter satisfies resty.Logger with the process's own Logger.
type restyLoggerAdapter struct {
	logger commons.Logger
}

func (a restyLoggerAdapter) Errorf(format string, v ...interface{}) { a.logger.Errorf(format, v...) }
func (a restyLoggerAdapter) Warnf(format string, v ...interface{})  { a.logger.Warnf(format, v...) }
func (a restyLoggerAdapter) Debugf(format string, v ...interface{}) { a.logger.Debugf(format, v...) }
