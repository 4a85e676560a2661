package repository

import (
	"context"
	"errors"
	"time"

	"webpanel-gate/internal/mfa/domain"
)

var (
	// ErrStoreUnavailable means the backend could not serve the call (network, timeout, closed pool).
	// The Fallback store catches it on writes and degrades to the in-process map.
	ErrStoreUnavailable = errors.New("verification store unavailable")
	// ErrDuplicateToken means a record with the same token already exists.
	ErrDuplicateToken = errors.New("verification token already exists")
)

// Transition is a conditional status update: it applies only if the record's status is From and,
// when NotBefore is set, the record was created at or after NotBefore (i.e. it has not expired).
type Transition struct {
	From      domain.Status
	To        domain.Status
	NotBefore time.Time
	// Actor and At are recorded as ResolvedBy/ResolvedAt when Actor is non-empty.
	Actor string
	At    time.Time
}

// Repository defines persistence for verification records. Implementations must make
// CompareAndSwap atomic across every process sharing the backend.
type Repository interface {
	// Create persists a new record that the backend keeps for retention. The record must have Token set.
	Create(ctx context.Context, r *domain.Record, retention time.Duration) error
	// GetByToken returns the record for token, or nil if not found.
	GetByToken(ctx context.Context, token string) (*domain.Record, error)
	// FindPending returns the newest pending record for username whose code hash matches and that was
	// created at or after notBefore, or nil if none.
	FindPending(ctx context.Context, username, codeHash string, notBefore time.Time) (*domain.Record, error)
	// CompareAndSwap applies t to the record for token. Returns true only if this call changed it.
	CompareAndSwap(ctx context.Context, token string, t Transition) (bool, error)
	// IncrementAttempts atomically adds one to the record's failed-code counter and returns the new
	// value. Returns 0 if the record does not exist.
	IncrementAttempts(ctx context.Context, token string) (int, error)
	// Sweep removes records whose retention has elapsed before the given time. Returns how many were removed.
	Sweep(ctx context.Context, before time.Time) (int, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// DefaultTTL is the default approval window.
const DefaultTTL = 300 * time.Second
