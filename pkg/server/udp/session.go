// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/google/uuid"
)

// Session is the relay state of one client endpoint. Each session owns a
// connected socket to the backend so responses can be routed back.
type Session struct {
	// ID is a unique identifier for this session
	ID string

	// RemoteAddr is the client's UDP address
	RemoteAddr *net.UDPAddr

	// Backend is the connection to the CoAP server
	Backend *net.UDPConn

	// LastActivity tracks the last time a datagram was relayed
	LastActivity time.Time

	// Context is the observer context for this session
	Context *handler.Context

	ctx    context.Context
	cancel context.CancelFunc

	// mu protects LastActivity
	mu sync.Mutex
}

// UpdateActivity updates the last activity timestamp for this session.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// GetLastActivity returns the last activity timestamp.
func (s *Session) GetLastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// Close cancels the session and closes its backend connection.
func (s *Session) Close() error {
	s.cancel()
	if s.Backend != nil {
		return s.Backend.Close()
	}
	return nil
}

// SessionManager manages client sessions keyed by client address.
type SessionManager struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	logger      *slog.Logger
	maxSessions int
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *slog.Logger, maxSessions int) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		maxSessions: maxSessions,
	}
}

// GetOrCreate returns the session of clientAddr, dialing targetAddr for a new one.
// The boolean is true when the session was created.
func (sm *SessionManager) GetOrCreate(ctx context.Context, clientAddr *net.UDPAddr, targetAddr string) (*Session, bool, error) {
	key := clientAddr.String()

	sm.mu.RLock()
	if sess, ok := sm.sessions[key]; ok {
		sm.mu.RUnlock()
		sess.UpdateActivity()
		return sess, false, nil
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double-check in case another worker created it
	if sess, ok := sm.sessions[key]; ok {
		sess.UpdateActivity()
		return sess, false, nil
	}

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, false, fmt.Errorf("session limit reached (%d), rejecting new session", sm.maxSessions)
	}

	backendAddr, err := net.ResolveUDPAddr("udp", targetAddr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve backend address %s: %w", targetAddr, err)
	}

	backend, err := net.DialUDP("udp", nil, backendAddr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to dial backend %s: %w", targetAddr, err)
	}

	sessionID := uuid.New().String()
	sessCtx, sessCancel := context.WithCancel(ctx)

	sess := &Session{
		ID:           sessionID,
		RemoteAddr:   clientAddr,
		Backend:      backend,
		LastActivity: time.Now(),
		Context: &handler.Context{
			SessionID:   sessionID,
			RemoteAddr:  clientAddr.String(),
			BackendAddr: backend.RemoteAddr().String(),
			Protocol:    "coap",
		},
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	sm.sessions[key] = sess

	sm.logger.Debug("new CoAP session created",
		slog.String("session", sessionID),
		slog.String("client", key),
		slog.String("backend", sess.Context.BackendAddr))

	return sess, true, nil
}

// Get returns an existing session for the given client address.
func (sm *SessionManager) Get(clientAddr *net.UDPAddr) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[clientAddr.String()]
	return sess, ok
}

// RemoveSession removes sess if it is still the registered session of its
// client. It reports whether it was removed.
func (sm *SessionManager) RemoveSession(sess *Session) bool {
	key := sess.RemoteAddr.String()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.sessions[key]; ok && cur == sess {
		delete(sm.sessions, key)
		return true
	}
	return false
}

// Cleanup closes sessions idle longer than timeout until ctx is done.
func (sm *SessionManager) Cleanup(ctx context.Context, timeout time.Duration, obs handler.Observer) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupExpired(timeout, obs)
		}
	}
}

// cleanupExpired removes sessions that haven't been active within the timeout.
func (sm *SessionManager) cleanupExpired(timeout time.Duration, obs handler.Observer) {
	now := time.Now()

	sm.mu.Lock()
	var expired []*Session
	for key, sess := range sm.sessions {
		if now.Sub(sess.GetLastActivity()) > timeout {
			expired = append(expired, sess)
			delete(sm.sessions, key)
		}
	}
	sm.mu.Unlock()

	for _, sess := range expired {
		sm.logger.Debug("session timeout",
			slog.String("session", sess.ID),
			slog.String("client", sess.RemoteAddr.String()))
		sm.closeSession(sess, obs)
	}
	if len(expired) > 0 {
		sm.logger.Debug("cleaned up expired sessions", slog.Int("count", len(expired)))
	}
}

func (sm *SessionManager) closeSession(sess *Session, obs handler.Observer) {
	if err := obs.OnDisconnect(context.Background(), sess.Context); err != nil {
		sm.logger.Error("disconnect handler error",
			slog.String("session", sess.ID),
			slog.String("error", err.Error()))
	}
	sess.Close()
}

// DrainAll waits for sessions to close on their own and force-closes the
// rest once timeout passes.
func (sm *SessionManager) DrainAll(timeout time.Duration, obs handler.Observer) error {
	if sm.Count() == 0 {
		return nil
	}
	sm.logger.Info("draining CoAP sessions", slog.Int("count", sm.Count()))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if sm.Count() == 0 {
				sm.logger.Info("all sessions drained")
				return nil
			}
		case <-deadline:
			sm.logger.Warn("drain timeout exceeded, forcing session closure")
			sm.ForceCloseAll(obs)
			return ErrShutdownTimeout
		}
	}
}

// ForceCloseAll closes every session immediately.
func (sm *SessionManager) ForceCloseAll(obs handler.Observer) {
	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for key, sess := range sm.sessions {
		all = append(all, sess)
		delete(sm.sessions, key)
	}
	sm.mu.Unlock()

	for _, sess := range all {
		sm.logger.Debug("force closing session", slog.String("session", sess.ID))
		sm.closeSession(sess, obs)
	}
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
