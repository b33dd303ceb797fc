package memory

import (
	"context"
	"sort"
	"sync"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
)

type MemorySessionRepository struct {
	sessions map[domain.HostID]*domain.Session
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.HostID]*domain.Session),
	}
}

func (r *MemorySessionRepository) Add(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.HostID]; exists {
		return domain.ErrSessionExists
	}

	r.sessions[session.HostID] = session
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.HostID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	return session, nil
}

func (r *MemorySessionRepository) Remove(ctx context.Context, id domain.HostID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.sessions, id)
	return nil
}

// FindByToken scans for the session holding token. Tokens are only looked up
// when a server-side probe arrives, so a linear scan is acceptable.
func (r *MemorySessionRepository) FindByToken(ctx context.Context, token domain.HolepunchToken) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		if session.HasToken(token) {
			return session, nil
		}
	}

	return nil, domain.ErrSessionNotFound
}

func (r *MemorySessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].HostID < sessions[j].HostID
	})

	return sessions, nil
}

func (r *MemorySessionRepository) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
