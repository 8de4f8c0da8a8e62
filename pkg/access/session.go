package access

import (
	"context"
	"sync"
)

// Session is the read-only view of a signed-in user's access state
type Session struct {
	user       User
	resolution Resolution
}

func (s *Session) User() User {
	return s.user
}

func (s *Session) HasAccess() bool {
	return s.resolution.HasAccess
}

func (s *Session) IsAdmin() bool {
	return s.resolution.IsAdmin
}

// Subscription returns a copy of the matched subscription, or nil
func (s *Session) Subscription() *Subscription {
	if s.resolution.Subscription == nil {
		return nil
	}
	sub := *s.resolution.Subscription
	return &sub
}

// CanUseMentoring reports whether the user may request a mentoring access code
func (s *Session) CanUseMentoring() bool {
	return s.resolution.IsAdmin || s.resolution.HasAccess
}

// SessionHandler is invoked with the new session, or nil on sign-out
type SessionHandler func(*Session)

type subscriber struct {
	id      uint64
	handler SessionHandler
}

// SessionManager owns the lifecycle of the current session and notifies
// subscribers on every change. Handlers run synchronously, in registration
// order, before Start/Refresh/End return. A change requested while handlers
// are running, from a handler or another goroutine, is queued and published
// once the running handlers return.
type SessionManager struct {
	resolver *Resolver

	mu          sync.RWMutex
	current     *Session
	subs        []subscriber
	nextID      uint64
	dispatching bool
	pending     []*Session
}

// NewSessionManager creates a session manager backed by resolver
func NewSessionManager(resolver *Resolver) *SessionManager {
	return &SessionManager{resolver: resolver}
}

// Start resolves user and publishes the resulting session
func (m *SessionManager) Start(ctx context.Context, user User) *Session {
	s := &Session{user: user, resolution: m.resolver.Resolve(ctx, user)}
	m.set(s)
	return s
}

// Refresh re-resolves the current user. Returns nil without a session.
func (m *SessionManager) Refresh(ctx context.Context) *Session {
	cur := m.Current()
	if cur == nil {
		return nil
	}
	return m.Start(ctx, cur.user)
}

// End clears the session and publishes nil
func (m *SessionManager) End() {
	m.set(nil)
}

// Current returns the current session, or nil when signed out
func (m *SessionManager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers handler and returns a function that removes it
func (m *SessionManager) Subscribe(handler SessionHandler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, handler: handler})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *SessionManager) set(s *Session) {
	m.mu.Lock()
	m.pending = append(m.pending, s)
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending[0] = nil
		m.pending = m.pending[1:]
		m.current = next
		handlers := make([]SessionHandler, len(m.subs))
		for i, sub := range m.subs {
			handlers[i] = sub.handler
		}
		m.mu.Unlock()

		for _, h := range handlers {
			h(next)
		}

		m.mu.Lock()
	}

	m.dispatching = false
	m.pending = nil
	m.mu.Unlock()
}
