package repository

import (
	"context"
	"sync"
	"time"
)

type memoryValue struct {
	value     string
	updatedAt time.Time
}

// MemoryRepository is an in-process Repository for single-process deployments and tests.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]memoryValue
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]memoryValue)}
}

func (r *MemoryRepository) Get(ctx context.Context, key string) (string, time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[key]
	return v.value, v.updatedAt, ok, nil
}

func (r *MemoryRepository) Set(ctx context.Context, key, value string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = memoryValue{value: value, updatedAt: at}
	return nil
}
