package detection

import (
	"context"
	"sync"
)

// Manager allows at most one active session per process, since the
// capture device is exclusive.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager whose sessions use cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start creates and starts a new session. The session is returned even
// when initialization fails, so its status can be inspected.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.current != nil {
		switch m.current.State() {
		case StateIdle, StateLoading, StateRunning:
			m.mu.Unlock()
			return m.current, ErrSessionRunning
		}
	}
	s := NewSession(m.cfg)
	m.current = s
	m.mu.Unlock()

	return s, s.Start(ctx)
}

// Stop stops the current session.
func (m *Manager) Stop() (*Session, error) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return nil, ErrNoSession
	}
	switch s.State() {
	case StateLoading, StateRunning:
	default:
		return s, ErrNoSession
	}
	s.Stop()
	return s, nil
}

// Current returns the latest session, running or not, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Shutdown stops the current session, if any.
func (m *Manager) Shutdown() {
	if s := m.Current(); s != nil {
		s.Stop()
	}
}
