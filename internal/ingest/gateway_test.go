// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/agent-assist/internal/bus"
	"github.com/rapidaai/agent-assist/internal/commons"
	"github.com/rapidaai/agent-assist/internal/config"
)

func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Protocol
	}{
		{"carrier connected", `{"event":"connected"}`, ProtocolCarrier},
		{"carrier start", `{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1"}}`, ProtocolCarrier},
		{"native start", `{"event":"start","interactionId":"int-1","tenantId":"t1","sampleRate":16000}`, ProtocolNative},
		{"garbage", `not json at all`, ProtocolUnknown},
		{"unrelated json", `{"hello":"world"}`, ProtocolUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectProtocol([]byte(tc.payload)))
		})
	}
}

func TestCarrierCallID_PrefersCallSid(t *testing.T) {
	f, err := parseCarrierFrame([]byte(`{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "CA1", carrierCallID(f))

	f, err = parseCarrierFrame([]byte(`{"event":"start","start":{"streamSid":"MZ1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "MZ1", carrierCallID(f))
}

func TestLooksLikeJSON(t *testing.T) {
	assert.True(t, looksLikeJSON([]byte(`{"event":"media"}`)))
	assert.True(t, looksLikeJSON([]byte(`[1,2,3]`)))
	assert.False(t, looksLikeJSON([]byte{0x01, 0x02, 0xff, 0xfe}))
	assert.False(t, looksLikeJSON(nil))
}

func newTestGateway(t *testing.T, b bus.Bus) (*Gateway, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{
		SupportExotel:      true,
		IngestAckEveryN:    2,
		IngestIdleCloseSec: 30,
	}
	g := NewGateway(cfg, b, nil, nil, commons.NewApplicationLogger("development", ""))
	engine := gin.New()
	g.RegisterRoutes(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return g, srv
}

func dialIngest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ingestPath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// Full carrier round-trip: connected, start, media frames, stop. The
// gateway must publish one envelope per media frame with strictly
// increasing seq onto audio_stream and a call_end on stop.
func TestGateway_CarrierStream(t *testing.T) {
	b := bus.NewMemoryBus(commons.NewApplicationLogger("development", ""))
	_, srv := newTestGateway(t, b)
	ws := dialIngest(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(
		`{"event":"start","start":{"callSid":"CA100","streamSid":"MZ100","mediaFormat":{"encoding":"audio/x-l16","sampleRate":16000,"channels":1}}}`)))

	pcm := make([]byte, 640) // 20ms at 16kHz mono
	media := `{"event":"media","media":{"payload":"` + base64.StdEncoding.EncodeToString(pcm) + `","timestamp":"40","chunk":"1"}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(media)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(media)))

	// ackEveryN=2, so the second media frame triggers a mark ack.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, ack, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(ack), `"mark"`)
	assert.Contains(t, string(ack), "ack-2")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)))

	frames := collectPayloads(t, b, bus.TopicAudioStream, 2)
	var env audioEnvelope
	require.NoError(t, json.Unmarshal(frames[0], &env))
	assert.Equal(t, "CA100", env.CallID)
	assert.Equal(t, uint64(1), env.Seq)
	assert.Equal(t, 16000, env.SampleRate)
	assert.Equal(t, "pcm16", env.Encoding)
	decoded, err := base64.StdEncoding.DecodeString(env.PayloadB64)
	require.NoError(t, err)
	assert.Len(t, decoded, 640)

	require.NoError(t, json.Unmarshal(frames[1], &env))
	assert.Equal(t, uint64(2), env.Seq)

	ends := collectPayloads(t, b, bus.TopicCallEnd, 1)
	assert.JSONEq(t, `{"callId":"CA100"}`, string(ends[0]))
}

// Native-protocol connections require a configured JWT key; without one the
// gateway must fail the connection with a close frame, not stream audio.
func TestGateway_NativeRejectedWithoutKey(t *testing.T) {
	b := bus.NewMemoryBus(commons.NewApplicationLogger("development", ""))
	_, srv := newTestGateway(t, b)
	ws := dialIngest(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(
		`{"event":"start","interactionId":"int-7","tenantId":"t1","sampleRate":16000,"encoding":"pcm16"}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

// A malformed start event fails the connection with a close frame.
func TestGateway_MalformedStartFailsConnection(t *testing.T) {
	b := bus.NewMemoryBus(commons.NewApplicationLogger("development", ""))
	_, srv := newTestGateway(t, b)
	ws := dialIngest(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","start":{}}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func collectPayloads(t *testing.T, b bus.Bus, topic string, n int) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out := make(chan []byte, n)
	go func() {
		_ = b.Subscribe(ctx, topic, "test-group", "c0", func(_ context.Context, msg bus.Message) error {
			out <- msg.Payload
			return nil
		})
	}()

	payloads := make([][]byte, 0, n)
	for len(payloads) < n {
		select {
		case p := <-out:
			payloads = append(payloads, p)
		case <-ctx.Done():
			t.Fatalf("timed out collecting %d payloads from %s (got %d)", n, topic, len(payloads))
		}
	}
	return payloads
}
