package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/portcullis/internal/audit"
	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
)

const (
	// DefaultMaxSessions caps concurrently tracked sessions
	DefaultMaxSessions = 128

	// DefaultSessionIdleTimeout is how long a session may sit idle
	// before the reaper closes it
	DefaultSessionIdleTimeout = 30 * time.Minute
)

var (
	// ErrSessionLimit reports the session cap being reached
	ErrSessionLimit = errors.New("session limit reached")

	// ErrSessionNotFound reports an unknown or already closed session
	ErrSessionNotFound = errors.New("session not found")
)

// State is a session's position in the protocol lifecycle
type State int

const (
	// StateNew means no successful initialize yet
	StateNew State = iota

	// StateInitialized means initialize succeeded, the client has not
	// confirmed with notifications/initialized
	StateInitialized

	// StateReady means the session serves operational methods
	StateReady

	// StateClosed is terminal
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one protocol conversation. Identity is bound at
// initialize and immutable afterwards; all state changes go through
// the mutex so concurrent requests observe a consistent lifecycle.
type Session struct {
	ID string

	mu              sync.Mutex
	state           State
	authCtx         *auth.AuthContext
	protocolVersion string
	clientInfo      Implementation
	tokenHash       string
	createdAt       time.Time
	lastActive      time.Time
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Auth returns the identity bound at initialize, nil before that
func (s *Session) Auth() *auth.AuthContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCtx
}

// ProtocolVersion returns the negotiated version, empty before initialize
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Touch records activity for idle reaping
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the most recent activity time
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// initialize transitions NEW → INITIALIZED, binding identity, protocol
// version and the presented credential's hash. The caller performs all
// failable checks first: a failed initialize must leave the session in
// NEW.
func (s *Session) initialize(authCtx *auth.AuthContext, version string, client Implementation, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNew {
		return fmt.Errorf("session already initialized")
	}
	s.state = StateInitialized
	s.authCtx = authCtx
	s.protocolVersion = version
	s.clientInfo = client
	s.tokenHash = tokenHash
	s.lastActive = time.Now()
	return nil
}

// tokenBinding returns the hash of the credential presented at
// initialize. Later requests on the same session must carry the same
// credential.
func (s *Session) tokenBinding() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenHash
}

// markReady transitions INITIALIZED → READY. Reports whether the
// transition happened; any other starting state is a no-op.
func (s *Session) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitialized {
		return false
	}
	s.state = StateReady
	s.lastActive = time.Now()
	return true
}

// close transitions to CLOSED. Reports whether this call did it.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

// SessionManager tracks live sessions by ID
type SessionManager struct {
	sessions    map[string]*Session
	maxSessions int
	idleTimeout time.Duration
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSessionManager creates a session manager and starts its idle
// reaper. Zero arguments select the defaults.
func NewSessionManager(maxSessions int, idleTimeout time.Duration) *SessionManager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// Create mints a new session in state NEW
func (m *SessionManager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, m.maxSessions)
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		state:      StateNew,
		createdAt:  now,
		lastActive: now,
	}
	m.sessions[sess.ID] = sess
	metrics.RecordSessionStart()
	return sess, nil
}

// Get returns a live session by ID
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// Close closes and forgets a session. Closing an unknown or already
// closed session is a no-op.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if sess.close() {
		metrics.RecordSessionEnd()
		tenantID := ""
		if a := sess.Auth(); a != nil {
			tenantID = a.TenantID
		}
		audit.Log(&audit.Event{
			Operation: audit.OpSessionClose,
			TenantID:  tenantID,
			SessionID: sess.ID,
			Success:   true,
		})
	}
}

// Count returns the number of tracked sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session and stops the reaper
func (m *SessionManager) CloseAll() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// reapLoop periodically closes idle sessions
func (m *SessionManager) reapLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(time.Now())
		}
	}
}

// ReapIdle closes sessions idle longer than the timeout and reports
// how many were closed.
func (m *SessionManager) ReapIdle(now time.Time) int {
	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		if now.Sub(sess.LastActive()) > m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		logger.Slog().Info("closing idle session", "session_id", id, "idle_timeout", m.idleTimeout.String())
		m.Close(id)
	}
	return len(stale)
}
