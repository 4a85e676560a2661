package repository

import (
	"context"

	"webpanel-gate/internal/identity/domain"
)

// Repository looks up panel identities.
type Repository interface {
	// GetByUsername returns the identity, or nil if not found.
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
}
