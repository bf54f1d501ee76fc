package session

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/scenario"
)

// Manager is an in-memory registry of sessions.
type Manager struct {
	opts     Options
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share opts.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create builds and configures a session, then registers it.
func (m *Manager) Create(file string, sc *scenario.Scenario, r rules.Rules) (*Session, error) {
	s := New(m.opts)
	if err := s.Configure(file, sc, r); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.gauge(n)
	return s, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Delete unregisters a session. The run's event stream is dropped when the
// event publisher supports it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	m.gauge(n)
	if d, ok := m.opts.Events.(interface {
		Delete(ctx context.Context, runID string) error
	}); ok {
		if err := d.Delete(ctx, s.State().RunID); err != nil {
			s.logger.Warn("drop event stream failed", zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) gauge(n int) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SetActiveSessions(n)
	}
}
