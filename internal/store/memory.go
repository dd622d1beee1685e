package store

import (
	"context"
	"sync"
	"time"

	"github.com/vozlab/voz/internal/domain"
)

// MemoryStore implements Repository in process memory. It backs devices on
// the ephemeral fingerprint fallback, whose sessions must not outlive the
// process, and doubles as a test fixture.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	turns    map[string][]*domain.Turn
	activity map[string]*domain.DeviceActivity
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		turns:    make(map[string][]*domain.Turn),
		activity: make(map[string]*domain.DeviceActivity),
	}
}

func copySession(s *domain.Session) *domain.Session {
	dup := *s
	dup.RecentKeywords = append([]string(nil), s.RecentKeywords...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		dup.EndedAt = &t
	}
	return &dup
}

// GetActiveSession retrieves the active session for a device.
func (m *MemoryStore) GetActiveSession(ctx context.Context, deviceID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.Session
	for _, s := range m.sessions {
		if s.DeviceID != deviceID || !s.Active() {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copySession(latest), nil
}

// InsertSession creates a new session record.
func (m *MemoryStore) InsertSession(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = copySession(sess)
	return nil
}

// UpdateSessionActivity updates activity bookkeeping after a turn.
func (m *MemoryStore) UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity time.Time, keywords []string, messageCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active() {
		return ErrNotFound
	}
	s.LastActivityAt = lastActivity
	s.RecentKeywords = append([]string(nil), keywords...)
	s.MessageCount = messageCount
	return nil
}

// EndSession marks a session ended with an optional summary.
func (m *MemoryStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active() {
		return ErrNotFound
	}
	t := endedAt
	s.EndedAt = &t
	s.Summary = summary
	return nil
}

// InsertTurn appends one exchange to a session.
func (m *MemoryStore) InsertTurn(ctx context.Context, turn *domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *turn
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], &dup)
	return nil
}

// ListTurns returns up to limit most recent turns, oldest first.
func (m *MemoryStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]*domain.Turn, len(turns))
	for i, t := range turns {
		dup := *t
		out[i] = &dup
	}
	return out, nil
}

// GetDeviceActivity retrieves the last known activity for a device.
func (m *MemoryStore) GetDeviceActivity(ctx context.Context, deviceID string) (*domain.DeviceActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	act, ok := m.activity[deviceID]
	if !ok {
		return nil, nil
	}
	dup := *act
	return &dup, nil
}

// UpsertDeviceActivity creates or updates the device activity record.
func (m *MemoryStore) UpsertDeviceActivity(ctx context.Context, act *domain.DeviceActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *act
	m.activity[act.DeviceID] = &dup
	return nil
}

// CleanupStaleSessions ends sessions idle longer than ttl.
func (m *MemoryStore) CleanupStaleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	var closed int64
	for _, s := range m.sessions {
		if s.Active() && s.LastActivityAt.Before(cutoff) {
			now := time.Now()
			s.EndedAt = &now
			closed++
		}
	}
	return closed, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
