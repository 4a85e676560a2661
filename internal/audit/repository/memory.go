package repository

import (
	"context"
	"sync"

	"webpanel-gate/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory, capped at max entries (oldest dropped).
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
	max     int
}

// NewMemoryRepository returns an in-memory audit repository. max <= 0 means 1000.
func NewMemoryRepository(max int) *MemoryRepository {
	if max <= 0 {
		max = 1000
	}
	return &MemoryRepository{max: max}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.entries = append(r.entries, &c)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditLog, 0, limit)
	for i := len(r.entries) - 1 - int(offset); i >= 0 && len(out) < int(limit); i-- {
		c := *r.entries[i]
		out = append(out, &c)
	}
	return out, nil
}
