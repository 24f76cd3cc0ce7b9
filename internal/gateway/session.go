package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/usage"
)

// InterpreterFactory builds the interpreter bound to one session's usage
// tracker. Backends and the cache store are shared between sessions.
type InterpreterFactory func(session *usage.Session) *interpreter.Interpreter

// Session holds per-client state.
type Session struct {
	ID          string
	Interpreter *interpreter.Interpreter
	Usage       *usage.Session
	CreatedAt   time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns when the session was last used.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SessionManager manages gateway sessions.
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	factory   InterpreterFactory
	usageOpts []usage.Option
	timeout   time.Duration
	now       func() time.Time
}

// NewSessionManager creates a session manager. usageOpts are applied to
// every new usage tracker, e.g. a shared ledger.
func NewSessionManager(factory InterpreterFactory, timeout time.Duration, usageOpts ...usage.Option) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		factory:   factory,
		usageOpts: usageOpts,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Create starts a session with a fresh usage tracker.
func (sm *SessionManager) Create() *Session {
	id := uuid.NewString()
	opts := append([]usage.Option{usage.WithID(id)}, sm.usageOpts...)
	tracker := usage.NewSession(opts...)

	now := sm.now()
	session := &Session{
		ID:           id,
		Interpreter:  sm.factory(tracker),
		Usage:        tracker,
		CreatedAt:    now,
		lastActivity: now,
	}

	sm.mu.Lock()
	sm.sessions[id] = session
	sm.mu.Unlock()
	return session
}

// Get returns a live session and marks it active. Sessions past the idle
// timeout are treated as gone even before the reaper removes them.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := sm.now()
	if sm.idle(s, now) {
		sm.Delete(id)
		return nil, false
	}
	s.touch(now)
	return s, true
}

// Delete removes a session. It reports whether the session existed.
func (sm *SessionManager) Delete(id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; !ok {
		return false
	}
	delete(sm.sessions, id)
	return true
}

// Len returns the number of tracked sessions.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ExpireIdle removes every session idle for longer than the timeout and
// returns their IDs.
func (sm *SessionManager) ExpireIdle() []string {
	now := sm.now()
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var expired []string
	for id, s := range sm.sessions {
		if sm.idle(s, now) {
			delete(sm.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

func (sm *SessionManager) idle(s *Session, now time.Time) bool {
	return sm.timeout > 0 && now.Sub(s.LastActivity()) > sm.timeout
}
