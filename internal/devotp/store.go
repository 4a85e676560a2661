// Package devotp keeps delivered verification codes in memory, keyed by token, for dev-only retrieval
// through GET /dev/verification/code. Never enabled when APP_ENV=production.
package devotp

import (
	"context"
	"sync"
	"time"

	"webpanel-gate/internal/notifier"
)

// Store holds plain codes by verification token. Not used in production.
type Store interface {
	// Put stores code for token until expiresAt.
	Put(ctx context.Context, token, code string, expiresAt time.Time)
	// Get returns the code for token if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, token string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for token until expiresAt. Expired entries are dropped on the way.
func (s *MemoryStore) Put(ctx context.Context, token, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
		}
	}
	s.m[token] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for token if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, token string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[token]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, token)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Sender is a notifier destination that captures the code instead of delivering it.
type Sender struct {
	store Store
	ttl   time.Duration
}

var _ notifier.Sender = (*Sender)(nil)

// NewSender returns a Sender that keeps each code for ttl after the request time.
func NewSender(store Store, ttl time.Duration) *Sender {
	return &Sender{store: store, ttl: ttl}
}

// Send stores req.Code under req.Token. address is ignored.
func (s *Sender) Send(ctx context.Context, address string, req notifier.Request) error {
	at := req.RequestedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.store.Put(ctx, req.Token, req.Code, at.Add(s.ttl))
	return nil
}
