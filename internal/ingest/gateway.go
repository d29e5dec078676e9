// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ingest is the C2 component: it terminates carrier and native
// WebSocket audio streams, normalizes their framing into AudioFrames, and
// publishes them onto the audio_stream bus topic.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
	"github.com/rapidaai/agent-assist/internal/store"
)

const (
	ingestPath       = "/v1/ingest"
	maxMessageBytes  = 1 << 20
	writeWait        = 5 * time.Second
	defaultAckEveryN = 50
	defaultIdleClose = 60 * time.Second
)

// Gateway terminates inbound audio WebSockets. One Gateway serves every
// connection in the process; all per-call state lives on the connection's
// own goroutine.
type Gateway struct {
	cfg      *config.AppConfig
	bus      bus.Bus
	contexts store.CallContextStore
	auth     *NativeAuthenticator
	logger   commons.Logger

	upgrader  websocket.Upgrader
	ackEveryN int
	idleClose time.Duration

	// degraded flips when a bus publish fails; the socket stays open and
	// the flag surfaces through the health endpoint instead.
	degraded atomic.Bool
}

// NewGateway constructs the Ingest Gateway. contexts may be nil (no call
// context bookkeeping); auth may be nil, in which case every native-protocol
// connection is rejected, whether or not carrier support is enabled.
func NewGateway(cfg *config.AppConfig, b bus.Bus, contexts store.CallContextStore, auth *NativeAuthenticator, logger commons.Logger) *Gateway {
	ackEveryN := cfg.IngestAckEveryN
	if ackEveryN <= 0 {
		ackEveryN = defaultAckEveryN
	}
	idleClose := time.Duration(cfg.IngestIdleCloseSec) * time.Second
	if idleClose <= 0 {
		idleClose = defaultIdleClose
	}
	return &Gateway{
		cfg:      cfg,
		bus:      b,
		contexts: contexts,
		auth:     auth,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ackEveryN: ackEveryN,
		idleClose: idleClose,
	}
}

// RegisterRoutes mounts the ingest WebSocket path, the carrier status
// callback, and the gateway's health probe onto engine.
func (g *Gateway) RegisterRoutes(engine *gin.Engine) {
	engine.GET(ingestPath, g.handleWS)
	engine.POST("/v1/call-status", NewStatusWebhook(g.cfg.TwilioAuthToken, g.contexts, g.logger).Handle)
	engine.GET("/healthz", g.Healthz)
}

// Healthz reports liveness plus the degraded flag. Bus pressure degrades
// this answer; it never closes media sockets.
func (g *Gateway) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "degraded": g.degraded.Load()})
}

// Degraded reports whether the most recent bus publish failed.
func (g *Gateway) Degraded() bool { return g.degraded.Load() }

func (g *Gateway) handleWS(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnw("ingest: websocket upgrade failed", "remote", c.Request.RemoteAddr, "err", err)
		return
	}

	conn := &connection{
		gateway:     g,
		ws:          ws,
		logger:      g.logger.With("remote", ws.RemoteAddr().String()),
		bearerToken: bearerToken(c.Request),
		state:       StateAwaitStart,
	}
	conn.run(c.Request.Context())
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// connection owns one WebSocket's state machine
// (AwaitStart -> Streaming -> Stopping -> Closed). Reads and writes both
// happen on run's goroutine, so no further locking is needed.
type connection struct {
	gateway     *Gateway
	ws          *websocket.Conn
	logger      commons.Logger
	bearerToken string

	state    connState
	protocol Protocol

	callID     string
	tenantID   string
	contextID  string
	sampleRate int
	channels   int

	seq         uint64
	mediaFrames int
	startedAt   time.Time
}

func (c *connection) run(ctx context.Context) {
	defer c.close(ctx)

	c.ws.SetReadLimit(maxMessageBytes)

	for c.state != StateClosed {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.gateway.idleClose)); err != nil {
			return
		}
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if isIdleTimeout(err) && c.state == StateStreaming {
				// Idle watchdog: no media inside the window; emit a
				// synthetic stop so the ASR worker tears down.
				c.logger.Infof("ingest: idle timeout, synthesizing stop for callId=%s", c.callID)
				c.stop(ctx)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("ingest: read error: %v", err)
			}
			return
		}

		switch c.state {
		case StateAwaitStart:
			if err := c.handleAwaitStart(ctx, msgType, payload); err != nil {
				c.logger.Warnw("ingest: failing connection before start", "err", err)
				c.closeWithProtocolError(err.Error())
				return
			}
		case StateStreaming:
			c.handleStreaming(ctx, msgType, payload)
		case StateStopping:
			// Late frames after stop are dropped.
		}
	}
}

// handleAwaitStart auto-detects the protocol from the first message payload
// shape and transitions to Streaming on a valid start frame. A malformed
// start is a protocol violation that fails the connection.
func (c *connection) handleAwaitStart(ctx context.Context, msgType int, payload []byte) error {
	if msgType != websocket.TextMessage {
		return fmt.Errorf("ingest: expected a text start frame, got binary")
	}

	if c.protocol == ProtocolUnknown {
		c.protocol = detectProtocol(payload)
		if c.protocol == ProtocolCarrier && !c.gateway.cfg.SupportExotel {
			return fmt.Errorf("ingest: carrier protocol disabled (SUPPORT_EXOTEL=false)")
		}
	}

	switch c.protocol {
	case ProtocolCarrier:
		frame, err := parseCarrierFrame(payload)
		if err != nil {
			return err
		}
		switch frame.Event {
		case "connected":
			return nil // handshake preamble, keep waiting for start
		case "start":
			return c.beginCarrierStream(ctx, frame)
		default:
			return fmt.Errorf("ingest: unexpected carrier event %q before start", frame.Event)
		}
	case ProtocolNative:
		return c.beginNativeStream(ctx, payload)
	default:
		return fmt.Errorf("ingest: unrecognized first message shape")
	}
}

func (c *connection) beginCarrierStream(ctx context.Context, frame *carrierFrame) error {
	callID := carrierCallID(frame)
	if callID == "" {
		return fmt.Errorf("ingest: carrier start frame missing callSid/streamSid")
	}
	c.callID = callID
	c.sampleRate = frame.Start.MediaFormat.SampleRate
	c.channels = frame.Start.MediaFormat.Channels
	if c.sampleRate <= 0 {
		c.sampleRate = 8000
	}
	if c.channels <= 0 {
		c.channels = 1
	}
	c.beginStream(ctx, "carrier")
	return nil
}

func (c *connection) beginNativeStream(ctx context.Context, payload []byte) error {
	if c.gateway.auth == nil {
		return fmt.Errorf("ingest: native protocol requires a configured JWT public key")
	}
	if _, err := c.gateway.auth.Verify(c.bearerToken); err != nil {
		return err
	}

	frame, err := parseNativeFrame(payload)
	if err != nil {
		return err
	}
	if frame.Event != "start" || frame.InteractionID == "" {
		return fmt.Errorf("ingest: malformed native start frame")
	}
	if frame.Encoding != "" && frame.Encoding != "pcm16" {
		return fmt.Errorf("ingest: unsupported native encoding %q", frame.Encoding)
	}

	c.callID = frame.InteractionID
	c.tenantID = frame.TenantID
	c.sampleRate = frame.SampleRate
	if c.sampleRate <= 0 {
		c.sampleRate = 16000
	}
	c.channels = 1
	c.beginStream(ctx, "native")
	return nil
}

func (c *connection) beginStream(ctx context.Context, provider string) {
	c.state = StateStreaming
	c.startedAt = time.Now()
	c.logger = c.logger.With("callId", c.callID)
	c.logger.Infof("ingest: stream started protocol=%s sampleRate=%d", provider, c.sampleRate)

	if c.gateway.contexts == nil {
		return
	}
	cc := &store.CallContext{
		CallID:    c.callID,
		TenantID:  c.tenantID,
		Direction: "inbound",
		Provider:  provider,
	}
	contextID, err := c.gateway.contexts.Save(ctx, cc)
	if err != nil {
		c.logger.Warnw("ingest: saving call context failed", "err", err)
		return
	}
	c.contextID = contextID
	if _, err := c.gateway.contexts.Claim(ctx, contextID); err != nil {
		c.logger.Warnw("ingest: claiming call context failed", "err", err)
	}
}

func (c *connection) handleStreaming(ctx context.Context, msgType int, payload []byte) {
	switch c.protocol {
	case ProtocolCarrier:
		c.handleCarrierStreaming(ctx, payload)
	case ProtocolNative:
		c.handleNativeStreaming(ctx, msgType, payload)
	}
}

func (c *connection) handleCarrierStreaming(ctx context.Context, payload []byte) {
	frame, err := parseCarrierFrame(payload)
	if err != nil {
		c.logger.Debugf("ingest: dropping malformed carrier frame: %v", err)
		return
	}
	switch frame.Event {
	case "media":
		if frame.Media == nil {
			return
		}
		pcm, err := decodeCarrierMedia(frame.Media.Payload)
		if err != nil {
			c.logger.Debugf("ingest: dropping media frame: %v", err)
			return
		}
		c.publishAudio(ctx, pcm, carrierTimestampMs(frame, c.startedAt))
	case "stop":
		c.stop(ctx)
	case "mark":
		// Carrier echoing our own ack; nothing to do.
	default:
		c.logger.Debugf("ingest: ignoring carrier event %q", frame.Event)
	}
}

func (c *connection) handleNativeStreaming(ctx context.Context, msgType int, payload []byte) {
	if msgType == websocket.BinaryMessage {
		// Some carriers send JSON on the binary channel; such payloads
		// are skipped, logged at debug, not fatal.
		if looksLikeJSON(payload) {
			c.logger.Debugf("ingest: binary frame decodes to JSON, skipping %d bytes", len(payload))
			return
		}
		c.publishAudio(ctx, payload, time.Since(c.startedAt).Milliseconds())
		return
	}

	frame, err := parseNativeFrame(payload)
	if err != nil {
		c.logger.Debugf("ingest: dropping malformed native frame: %v", err)
		return
	}
	if frame.Event == "stop" {
		c.stop(ctx)
	}
}

// publishAudio wraps pcm into an AudioFrame envelope with seq = prev + 1 and
// publishes it to audio_stream. A publish failure flips the degraded flag
// but never closes the socket.
func (c *connection) publishAudio(ctx context.Context, pcm []byte, timestampMs int64) {
	if len(pcm) == 0 {
		return
	}
	c.seq++
	env := audioEnvelope{
		CallID:      c.callID,
		TenantID:    c.tenantID,
		Seq:         c.seq,
		SampleRate:  c.sampleRate,
		Encoding:    "pcm16",
		Channels:    c.channels,
		PayloadB64:  base64.StdEncoding.EncodeToString(pcm),
		TimestampMs: timestampMs,
	}
	payload, err := env.marshal()
	if err != nil {
		c.logger.Errorw("ingest: marshaling audio envelope", "err", err)
		return
	}
	if _, err := c.gateway.bus.Publish(ctx, bus.TopicAudioStream, payload); err != nil {
		c.gateway.degraded.Store(true)
		c.logger.Errorw("ingest: publishing audio frame failed, flagging degraded", "seq", c.seq, "err", err)
	} else {
		c.gateway.degraded.Store(false)
	}

	c.mediaFrames++
	if c.mediaFrames%c.gateway.ackEveryN == 0 {
		c.sendAck()
	}
}

func (c *connection) sendAck() {
	ack := fmt.Sprintf(`{"event":"mark","mark":{"name":"ack-%d"}}`, c.mediaFrames)
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
		c.logger.Debugf("ingest: writing ack mark failed: %v", err)
	}
}

// stop ends the stream: publishes call_end so the ASR worker tears down,
// completes the call context, and transitions to Stopping.
func (c *connection) stop(ctx context.Context) {
	if c.state != StateStreaming {
		return
	}
	c.state = StateStopping

	payload := []byte(fmt.Sprintf(`{"callId":%q}`, c.callID))
	if _, err := c.gateway.bus.Publish(ctx, bus.TopicCallEnd, payload); err != nil {
		c.gateway.degraded.Store(true)
		c.logger.Errorw("ingest: publishing call_end failed", "err", err)
	}

	if c.gateway.contexts != nil && c.contextID != "" {
		if err := c.gateway.contexts.Complete(ctx, c.contextID); err != nil {
			c.logger.Warnw("ingest: completing call context failed", "err", err)
		}
	}

	c.logger.Infof("ingest: stream stopped frames=%d", c.mediaFrames)
	c.state = StateClosed
}

func (c *connection) close(ctx context.Context) {
	if c.state == StateStreaming {
		// Socket dropped mid-stream; downstream still needs the teardown.
		c.stop(ctx)
	}
	c.state = StateClosed
	_ = c.ws.Close()
}

func (c *connection) closeWithProtocolError(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	_ = c.ws.Close()
	c.state = StateClosed
}

func carrierTimestampMs(frame *carrierFrame, startedAt time.Time) int64 {
	if frame.Media != nil && frame.Media.Timestamp != "" {
		if ts, err := strconv.ParseInt(frame.Media.Timestamp, 10, 64); err == nil {
			return ts
		}
	}
	return time.Since(startedAt).Milliseconds()
}

func isIdleTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
