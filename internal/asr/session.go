// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rapidaai/agent-assist/internal/commons"
)

// sessionState is the per-call connection lifecycle:
// Idle -> Opening -> Ready -> Draining -> Closed, with an error-recovery
// sidepath * -> Reopening -> Opening.
type sessionState int

const (
	SessionIdle sessionState = iota
	SessionOpening
	SessionReady
	SessionDraining
	SessionReopening
	SessionClosed
)

const (
	sendReadyPollInterval = 50 * time.Millisecond
	sendReadyTimeout      = 3 * time.Second
	defaultMaxReconnect   = 3
)

// SessionManager owns exactly one ProviderSession for a callId at a time;
// two concurrent sessions for the same call are forbidden. Creation is
// serialized with a per-call single-flight lock so concurrent Ensure calls
// await the same pending open.
type SessionManager struct {
	callID      string
	tenantID    string
	sampleRate  int
	factory     ProviderFactory
	maxReconnect int
	logger      commons.Logger

	mu              sync.Mutex
	state           sessionState
	session         ProviderSession
	reconnectCount  int
	openedAt        time.Time
	firstAudioSent  bool
	bytesSent       int64
	keepAliveCancel context.CancelFunc

	sf singleflight.Group

	inbox chan TranscriptEvent
	errCh chan error
}

// NewSessionManager constructs a SessionManager for one call. inbox receives
// every TranscriptEvent the provider emits; the reply handler writes into it
// from its own goroutine so the aggregator's task never shares mutable state
// with the callback path.
func NewSessionManager(callID, tenantID string, sampleRate int, factory ProviderFactory, maxReconnect int, logger commons.Logger) *SessionManager {
	if maxReconnect <= 0 {
		maxReconnect = defaultMaxReconnect
	}
	return &SessionManager{
		callID:       callID,
		tenantID:     tenantID,
		sampleRate:   sampleRate,
		factory:      factory,
		maxReconnect: maxReconnect,
		logger:       logger,
		state:        SessionIdle,
		inbox:        make(chan TranscriptEvent, 64),
		errCh:        make(chan error, 1),
	}
}

// Inbox is the channel the per-call worker task drains for transcript
// events produced by the provider's reply handler.
func (m *SessionManager) Inbox() <-chan TranscriptEvent { return m.inbox }

// Errors surfaces asynchronous provider errors to the worker task; the
// recovery itself runs on the send path, this channel exists so transport
// errors are observed even between sends.
func (m *SessionManager) Errors() <-chan error { return m.errCh }

// RecordSend updates the connection-state counters after a successful
// dispatch (firstAudioSent, bytesSent).
func (m *SessionManager) RecordSend(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firstAudioSent = true
	m.bytesSent += int64(n)
}

// BytesSent reports the total payload bytes dispatched on this call's
// sessions, for metrics and tests.
func (m *SessionManager) BytesSent() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesSent
}

// Ensure returns the current session, opening one if none exists yet.
// Concurrent callers for the same callId collapse onto the same in-flight
// open via singleflight; on failure the lock releases and the next caller
// retries.
func (m *SessionManager) Ensure(ctx context.Context, keepAlivePeriod time.Duration) (ProviderSession, error) {
	m.mu.Lock()
	if m.state == SessionReady && m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(m.callID, func() (interface{}, error) {
		return m.open(ctx, keepAlivePeriod)
	})
	if err != nil {
		return nil, err
	}
	return v.(ProviderSession), nil
}

func (m *SessionManager) open(ctx context.Context, keepAlivePeriod time.Duration) (ProviderSession, error) {
	m.mu.Lock()
	m.state = SessionOpening
	m.mu.Unlock()

	session := m.factory(m.callID, m.tenantID, m.sampleRate)

	ready := make(chan struct{}, 1)
	err := session.Open(ctx, SessionCallbacks{
		OnReady: func() {
			m.mu.Lock()
			m.state = SessionReady
			m.openedAt = time.Now()
			m.mu.Unlock()
			select {
			case ready <- struct{}{}:
			default:
			}
		},
		OnTranscript: func(ev TranscriptEvent) {
			select {
			case m.inbox <- ev:
			default:
				m.logger.Warnw("asr: inbox full, dropping transcript event", "callId", m.callID)
			}
		},
		OnError: func(err error) {
			m.logger.Errorw("asr: provider session error", "callId", m.callID, "err", err)
			select {
			case m.errCh <- err:
			default:
			}
		},
		OnClose: func() {
			m.mu.Lock()
			if m.state != SessionClosed {
				m.state = SessionDraining
			}
			m.mu.Unlock()
		},
	})
	if err != nil {
		m.mu.Lock()
		m.state = SessionIdle
		m.mu.Unlock()
		return nil, fmt.Errorf("asr: opening provider session callId=%s: %w", m.callID, err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.startKeepAlive(ctx, keepAlivePeriod)
	return session, nil
}

// startKeepAlive launches the periodic keep-alive task. The timer
// is canceled on Close/error/call-end and never leaks across sessions
// because each open() call replaces keepAliveCancel before starting a new
// one.
func (m *SessionManager) startKeepAlive(ctx context.Context, period time.Duration) {
	m.mu.Lock()
	if m.keepAliveCancel != nil {
		m.keepAliveCancel()
	}
	kaCtx, cancel := context.WithCancel(ctx)
	m.keepAliveCancel = cancel
	session := m.session
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				ready := m.state == SessionReady
				m.mu.Unlock()
				if !ready {
					continue
				}
				if err := session.KeepAlive(); err != nil {
					m.logger.Warnw("asr: keepalive send failed", "callId", m.callID, "err", err)
				}
			}
		}
	}()
}

// WaitReady polls ReadyState every 50ms up to 3s. Returns
// ErrSendTimeout if the transport never reaches StateOpen in time.
func (m *SessionManager) WaitReady(session ProviderSession) error {
	deadline := time.Now().Add(sendReadyTimeout)
	for {
		switch session.ReadyState() {
		case StateOpen:
			return nil
		case StateClosing, StateClosed:
			return ErrSessionClosed
		}
		if time.Now().After(deadline) {
			return ErrSendTimeout
		}
		time.Sleep(sendReadyPollInterval)
	}
}

// Reopen tears down the current session and opens a fresh one, incrementing
// the reconnect counter. Returns ErrMaxReconnects once maxReconnect attempts
// for this call have been made.
func (m *SessionManager) Reopen(ctx context.Context, keepAlivePeriod time.Duration) (ProviderSession, error) {
	m.mu.Lock()
	if m.reconnectCount >= m.maxReconnect {
		m.state = SessionClosed
		m.mu.Unlock()
		return nil, ErrMaxReconnects
	}
	m.reconnectCount++
	m.state = SessionReopening
	old := m.session
	m.session = nil
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	return m.open(ctx, keepAlivePeriod)
}

// ReconnectCount reports attempts made so far, for the active-sessions
// metric and test assertions.
func (m *SessionManager) ReconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectCount
}

// State reports the current lifecycle state.
func (m *SessionManager) State() sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears down the session and cancels the keep-alive timer. Safe to
// call once the call has ended or the worker is shutting down.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	m.state = SessionClosed
	if m.keepAliveCancel != nil {
		m.keepAliveCancel()
		m.keepAliveCancel = nil
	}
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
