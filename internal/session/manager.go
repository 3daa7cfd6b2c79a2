package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/timeutil"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns a set of independently running sessions.
type Manager struct {
	clock timeutil.Clock
	cfg   *config.TuningConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager(clock timeutil.Clock, cfg *config.TuningConfig) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		clock:    clock,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new idle session for the given mode and seed.
func (m *Manager) Create(modeID string, seed int64) *Session {
	s := New(modeID, seed, m.clock, m.cfg)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove stops (if running) and forgets a session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if s.State() == StateRunning {
		if _, err := s.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every running session. Used at shutdown.
func (m *Manager) StopAll() {
	for _, s := range m.List() {
		if s.State() == StateRunning {
			_, _ = s.Stop()
		}
	}
}
