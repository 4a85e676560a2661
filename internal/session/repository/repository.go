package repository

import (
	"context"
	"errors"
	"time"

	"webpanel-gate/internal/session/domain"
)

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Repository defines persistence for sessions. Sessions are keyed by the SHA-256 of their ID.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByHash returns the session, or nil if not found. Revoked and expired sessions may be returned.
	GetByHash(ctx context.Context, idHash string) (*domain.Session, error)
	// Revoke sets RevokedAt if it is not set yet. Unknown hashes are not an error.
	Revoke(ctx context.Context, idHash string, at time.Time) error
	ListByUsername(ctx context.Context, username string) ([]*domain.Session, error)
}
