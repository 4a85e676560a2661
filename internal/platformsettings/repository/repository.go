package repository

import (
	"context"
	"time"
)

// Repository stores raw platform setting values by key.
type Repository interface {
	// Get returns the stored value and true, or "", false when the key is unset.
	Get(ctx context.Context, key string) (value string, updatedAt time.Time, ok bool, err error)
	// Set upserts the value for key.
	Set(ctx context.Context, key, value string, at time.Time) error
}
