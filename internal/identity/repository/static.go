package repository

import (
	"context"

	"webpanel-gate/internal/identity/domain"
)

// StaticRepository serves a fixed set of identities, typically the single administrator from config.
type StaticRepository struct {
	byUsername map[string]domain.Identity
}

var _ Repository = (*StaticRepository)(nil)

// NewStaticRepository returns a repository over identities. Later duplicates win.
func NewStaticRepository(identities ...domain.Identity) *StaticRepository {
	m := make(map[string]domain.Identity, len(identities))
	for _, i := range identities {
		if i.Username == "" {
			continue
		}
		if i.Provider == "" {
			i.Provider = domain.IdentityProviderLocal
		}
		m[i.Username] = i
	}
	return &StaticRepository{byUsername: m}
}

func (r *StaticRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	i, ok := r.byUsername[username]
	if !ok {
		return nil, nil
	}
	return &i, nil
}
