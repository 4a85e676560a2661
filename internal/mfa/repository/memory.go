package repository

import (
	"context"
	"sync"
	"time"

	"webpanel-gate/internal/mfa/domain"
)

type memoryEntry struct {
	rec     domain.Record
	purgeAt time.Time
}

// MemoryRepository is an in-process Repository. It has no cross-process visibility and is lost on
// restart: only use it as the degraded-mode fallback or in single-process deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	m    map[string]memoryEntry
	nowF func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns a new in-memory verification store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]memoryEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of r until retention elapses.
func (s *MemoryRepository) Create(ctx context.Context, r *domain.Record, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[r.Token]; ok && e.purgeAt.After(s.nowF()) {
		return ErrDuplicateToken
	}
	s.m[r.Token] = memoryEntry{rec: copyRecord(r), purgeAt: r.CreatedAt.Add(retention)}
	return nil
}

// GetByToken returns a copy of the record, or nil if missing or past retention.
func (s *MemoryRepository) GetByToken(ctx context.Context, token string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[token]
	if !ok || !e.purgeAt.After(s.nowF()) {
		return nil, nil
	}
	rec := copyRecord(&e.rec)
	return &rec, nil
}

// FindPending scans for the newest matching pending record.
func (s *MemoryRepository) FindPending(ctx context.Context, username, codeHash string, notBefore time.Time) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowF()
	var found *domain.Record
	for _, e := range s.m {
		if !e.purgeAt.After(now) {
			continue
		}
		r := e.rec
		if r.Username != username || r.CodeHash != codeHash || r.Status != domain.StatusPending {
			continue
		}
		if r.CreatedAt.Before(notBefore) {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			c := copyRecord(&r)
			found = &c
		}
	}
	return found, nil
}

// CompareAndSwap applies t under the write lock.
func (s *MemoryRepository) CompareAndSwap(ctx context.Context, token string, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[token]
	if !ok || !e.purgeAt.After(s.nowF()) {
		return false, nil
	}
	if e.rec.Status != t.From {
		return false, nil
	}
	if !t.NotBefore.IsZero() && e.rec.CreatedAt.Before(t.NotBefore) {
		return false, nil
	}
	e.rec.Status = t.To
	if t.Actor != "" {
		at := t.At
		e.rec.ResolvedBy = t.Actor
		e.rec.ResolvedAt = &at
	}
	s.m[token] = e
	return true, nil
}

// IncrementAttempts bumps the counter under the write lock.
func (s *MemoryRepository) IncrementAttempts(ctx context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[token]
	if !ok || !e.purgeAt.After(s.nowF()) {
		return 0, nil
	}
	e.rec.Attempts++
	s.m[token] = e
	return e.rec.Attempts, nil
}

// Sweep deletes entries whose retention ended at or before the given time.
func (s *MemoryRepository) Sweep(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, e := range s.m {
		if !e.purgeAt.After(before) {
			delete(s.m, token)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Len returns the number of stored entries, including ones past retention not yet swept.
func (s *MemoryRepository) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func copyRecord(r *domain.Record) domain.Record {
	c := *r
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		c.ResolvedAt = &at
	}
	return c
}
