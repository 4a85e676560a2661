package repository

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"webpanel-gate/internal/mfa/domain"
)

func TestFallbackRepository_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Repository {
		_, client := newTestRedis(t)
		return NewFallbackRepository(NewRedisRepository(client, ""), NewMemoryRepository(), nil)
	})
}

func TestFallbackRepository_DegradesOnUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mem := NewMemoryRepository()
	var logs bytes.Buffer
	repo := NewFallbackRepository(NewRedisRepository(client, ""), mem, slog.New(slog.NewTextHandler(&logs, nil)))
	mr.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	rec := newRecord("alice", "h", now)
	if err := repo.Create(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Create in degraded mode: %v", err)
	}
	if repo.Degraded() != 1 || mem.Len() != 1 {
		t.Errorf("Degraded = %d, mem.Len = %d", repo.Degraded(), mem.Len())
	}
	if !strings.Contains(logs.String(), "degraded mode") || !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected WARN degraded log, got %q", logs.String())
	}

	got, err := repo.GetByToken(ctx, rec.Token)
	if err != nil || got == nil {
		t.Fatalf("GetByToken = %v, %v", got, err)
	}
	if n, err := repo.IncrementAttempts(ctx, rec.Token); err != nil || n != 1 {
		t.Errorf("IncrementAttempts in degraded mode = %d, %v", n, err)
	}
	ok, err := repo.CompareAndSwap(ctx, rec.Token, Transition{From: domain.StatusPending, To: domain.StatusApproved, Actor: "root", At: now})
	if err != nil || !ok {
		t.Errorf("CAS in degraded mode = %v, %v", ok, err)
	}
	if found, _ := repo.FindPending(ctx, "alice", "h", time.Time{}); found != nil {
		t.Errorf("FindPending after approve = %+v, want nil", found)
	}
}

func TestFallbackRepository_NoFallbackForOtherErrors(t *testing.T) {
	_, client := newTestRedis(t)
	mem := NewMemoryRepository()
	repo := NewFallbackRepository(NewRedisRepository(client, ""), mem, nil)
	ctx := context.Background()
	rec := newRecord("alice", "h", time.Now().UTC())
	_ = repo.Create(ctx, rec, time.Hour)

	if err := repo.Create(ctx, rec, time.Hour); err != ErrDuplicateToken {
		t.Errorf("err = %v, want ErrDuplicateToken", err)
	}
	if mem.Len() != 0 {
		t.Error("duplicate must not fall back to memory")
	}
}
