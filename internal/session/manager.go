package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("too many sessions")
)

type Manager struct {
	backend       *Backend
	maxPerCreator int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(backend *Backend, maxPerCreator int) *Manager {
	return &Manager{
		backend:       backend,
		maxPerCreator: maxPerCreator,
		sessions:      make(map[string]*Session),
	}
}

// Create opens a session for creator and signs it in as creator.
func (m *Manager) Create(ctx context.Context, creator string) (*Session, error) {
	m.mu.Lock()
	if m.maxPerCreator > 0 && m.countLocked(creator) >= m.maxPerCreator {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	s := newSession(uuid.New().String(), creator, m.backend)
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if err := s.SignIn(ctx, creator); err != nil {
		m.Close(s.ID)
		return nil, err
	}
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetFor returns the session only when creator opened it.
func (m *Manager) GetFor(id, creator string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Creator != creator {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) countLocked(creator string) int {
	n := 0
	for _, s := range m.sessions {
		if s.Creator == creator {
			n++
		}
	}
	return n
}
