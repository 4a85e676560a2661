package repository

import (
	"context"

	"webpanel-gate/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries newest first.
	List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error)
}
