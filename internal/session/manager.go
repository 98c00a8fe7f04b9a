package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/fieldguide/internal/metrics"
	"github.com/kalambet/fieldguide/internal/pipeline"
)

const defaultSweepInterval = time.Minute

// Deps are the collaborators every session shares.
type Deps struct {
	Gate       *pipeline.IndexGate
	Answerer   QuestionAnswerer
	Recognizer VoiceRecognizer
	Metrics    *metrics.Metrics

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Manager owns the live sessions and expires idle ones.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	deps        *Deps
	idleTimeout time.Duration
	sweep       time.Duration
	logger      *slog.Logger
}

// NewManager creates a Manager. idleTimeout <= 0 disables expiry.
func NewManager(deps Deps, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		deps:        &deps,
		idleTimeout: idleTimeout,
		sweep:       defaultSweepInterval,
		logger:      slog.Default(),
	}
}

// Gate returns the shared index gate.
func (m *Manager) Gate() *pipeline.IndexGate {
	return m.deps.Gate
}

// Create starts a new session in awaiting_index.
func (m *Manager) Create() *Session {
	s := newSession(m.deps, m.deps.now())

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.deps.Metrics.SetActiveSessions(n)
	m.logger.Info("session created", "session", s.id)
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.deps.Metrics.SetActiveSessions(n)
	m.logger.Info("session closed", "session", id)
	return nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run expires idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.sweep):
		}
		if n := m.SweepOnce(); n > 0 {
			m.logger.Info("expired idle sessions", "count", n)
		}
	}
}

// SweepOnce removes sessions idle for longer than the idle timeout and
// returns how many were removed. Sessions with a question in flight are kept.
func (m *Manager) SweepOnce() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.deps.now().Add(-m.idleTimeout)

	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.lastActive.Before(cutoff) && s.state != StateQueryInFlight
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		m.deps.Metrics.SetActiveSessions(n)
	}
	return removed
}
