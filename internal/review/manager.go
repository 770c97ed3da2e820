package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/monitoring"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = eris.New("review: session not found")

// Manager owns the open sessions of a process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    memory.Store
	opts     Options
}

// NewManager creates a manager whose sessions share store.
func NewManager(store memory.Store, opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		opts:     opts,
	}
}

// Create builds and prepares a session over statements.
func (m *Manager) Create(ctx context.Context, statements []*model.Statement) (*Session, error) {
	s := New(uuid.NewString(), statements, m.store, m.opts)
	if err := s.Prepare(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	monitoring.Default().SessionsActive.Set(float64(n))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	return s, nil
}

// Delete abandons and forgets a session. The session is forgotten even when
// abandoning it fails to restore a decision; that error is returned.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return eris.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	monitoring.Default().SessionsActive.Set(float64(n))
	return s.Abandon(ctx)
}

// Sweep evicts every session whose last state change is before cutoff and
// returns their IDs in sorted order. Open sessions are abandoned.
func (m *Manager) Sweep(ctx context.Context, cutoff time.Time) []string {
	m.mu.Lock()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	monitoring.Default().SessionsActive.Set(float64(n))

	ids := make([]string, len(evicted))
	for i, s := range evicted {
		ids[i] = s.ID()
		if err := s.Abandon(ctx); err != nil {
			zap.L().Warn("review: abandon idle session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	sort.Strings(ids)
	zap.L().Info("review: idle sessions evicted", zap.Int("evicted", len(ids)), zap.Int("active", n))
	return ids
}

// List returns the progress of every session, oldest first.
func (m *Manager) List() []Progress {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})
	out := make([]Progress, len(sessions))
	for i, s := range sessions {
		out[i] = s.Progress()
	}
	return out
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// PendingQuestions returns the number of pending questions across sessions.
func (m *Manager) PendingQuestions() int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range sessions {
		n += s.Progress().Pending
	}
	return n
}
