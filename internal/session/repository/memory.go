package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"webpanel-gate/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. Expired sessions are dropped on Create.
type MemoryRepository struct {
	mu   sync.RWMutex
	m    map[string]domain.Session
	nowF func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]domain.Session),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowF()
	for k, v := range r.m {
		if !now.Before(v.ExpiresAt) {
			delete(r.m, k)
		}
	}
	c := *s
	c.ID = ""
	r.m[s.IDHash] = c
	return nil
}

func (r *MemoryRepository) GetByHash(ctx context.Context, idHash string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[idHash]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, idHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[idHash]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	s.RevokedAt = &at
	r.m[idHash] = s
	return nil
}

// ListByUsername returns the user's sessions, newest first.
func (r *MemoryRepository) ListByUsername(ctx context.Context, username string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.m {
		if s.Username == username {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func copySession(s domain.Session) *domain.Session {
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		s.RevokedAt = &at
	}
	return &s
}
