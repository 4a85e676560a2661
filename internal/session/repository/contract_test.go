package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"webpanel-gate/internal/session/domain"
)

func newSession(hash, username string, created time.Time) *domain.Session {
	return &domain.Session{
		ID:        "ps_plain-" + hash,
		IDHash:    hash,
		Username:  username,
		ClientIP:  "203.0.113.9",
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

// runContract exercises behavior every Repository must share.
func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newSession("h1", "admin", now)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.GetByHash(ctx, "h1")
		if err != nil {
			t.Fatalf("GetByHash: %v", err)
		}
		if got == nil {
			t.Fatal("session not found")
		}
		if got.Username != "admin" || got.ClientIP != "203.0.113.9" {
			t.Errorf("got %+v", got)
		}
		if got.ID != "" {
			t.Error("store must not hold the plaintext ID")
		}
		if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
		}
		if got.RevokedAt != nil {
			t.Error("new session should not be revoked")
		}
	})

	t.Run("missing", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.GetByHash(ctx, "nope")
		if err != nil || got != nil {
			t.Errorf("GetByHash = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, newSession("h2", "admin", now)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		first := now.Add(time.Minute)
		if err := repo.Revoke(ctx, "h2", first); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if err := repo.Revoke(ctx, "h2", now.Add(2*time.Minute)); err != nil {
			t.Fatalf("second Revoke: %v", err)
		}
		if err := repo.Revoke(ctx, "unknown", now); err != nil {
			t.Fatalf("Revoke unknown: %v", err)
		}
		got, _ := repo.GetByHash(ctx, "h2")
		if got == nil || got.RevokedAt == nil {
			t.Fatal("session should be revoked")
		}
		if !got.RevokedAt.Equal(first) {
			t.Errorf("RevokedAt = %v, want first revocation %v", got.RevokedAt, first)
		}
	})

	t.Run("list by username", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 3; i++ {
			if err := repo.Create(ctx, newSession(fmt.Sprintf("a%d", i), "admin", now.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		if err := repo.Create(ctx, newSession("b0", "other", now)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		list, err := repo.ListByUsername(ctx, "admin")
		if err != nil {
			t.Fatalf("ListByUsername: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("len = %d, want 3", len(list))
		}
		if list[0].IDHash != "a2" {
			t.Errorf("first = %q, want newest a2", list[0].IDHash)
		}
		for _, s := range list {
			if s.Username != "admin" {
				t.Errorf("leaked session of %q", s.Username)
			}
		}
	})
}
