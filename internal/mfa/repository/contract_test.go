package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"webpanel-gate/internal/mfa/domain"
)

// runContract exercises the behaviour every Repository must share.
func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newRecord("alice", "hash-1", time.Now().UTC())
		if err := repo.Create(ctx, rec, time.Hour); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.GetByToken(ctx, rec.Token)
		if err != nil {
			t.Fatalf("GetByToken: %v", err)
		}
		if got == nil {
			t.Fatal("record not found")
		}
		if got.Username != "alice" || got.CodeHash != "hash-1" || got.Status != domain.StatusPending || got.ClientIP != "203.0.113.7" {
			t.Errorf("unexpected record %+v", got)
		}
		if d := got.CreatedAt.Sub(rec.CreatedAt); d > time.Millisecond || d < -time.Millisecond {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
		}
		if got.ResolvedAt != nil || got.ResolvedBy != "" {
			t.Error("fresh record should not be resolved")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.GetByToken(context.Background(), uuid.NewString())
		if err != nil || got != nil {
			t.Errorf("GetByToken(missing) = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("duplicate token", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newRecord("alice", "hash-1", time.Now().UTC())
		if err := repo.Create(ctx, rec, time.Hour); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Create(ctx, rec, time.Hour); !errors.Is(err, ErrDuplicateToken) {
			t.Errorf("second Create err = %v, want ErrDuplicateToken", err)
		}
	})

	t.Run("compare and swap records actor", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()
		rec := newRecord("alice", "hash-1", now)
		_ = repo.Create(ctx, rec, time.Hour)

		ok, err := repo.CompareAndSwap(ctx, rec.Token, Transition{
			From: domain.StatusPending, To: domain.StatusApproved, Actor: "root", At: now,
		})
		if err != nil || !ok {
			t.Fatalf("CAS = %v, %v", ok, err)
		}
		got, _ := repo.GetByToken(ctx, rec.Token)
		if got.Status != domain.StatusApproved || got.ResolvedBy != "root" || got.ResolvedAt == nil {
			t.Errorf("unexpected record after CAS %+v", got)
		}

		ok, err = repo.CompareAndSwap(ctx, rec.Token, Transition{From: domain.StatusPending, To: domain.StatusDenied, Actor: "other", At: now})
		if err != nil || ok {
			t.Errorf("CAS from stale status = %v, %v; want false, nil", ok, err)
		}
		ok, _ = repo.CompareAndSwap(ctx, rec.Token, Transition{From: domain.StatusApproved, To: domain.StatusConsumed, At: now})
		if !ok {
			t.Fatal("approved -> consumed should apply")
		}
		got, _ = repo.GetByToken(ctx, rec.Token)
		if got.Status != domain.StatusConsumed || got.ResolvedBy != "root" {
			t.Errorf("consume must keep resolver, got %+v", got)
		}
	})

	t.Run("compare and swap missing", func(t *testing.T) {
		repo := newRepo(t)
		ok, err := repo.CompareAndSwap(context.Background(), uuid.NewString(), Transition{From: domain.StatusPending, To: domain.StatusApproved})
		if err != nil || ok {
			t.Errorf("CAS(missing) = %v, %v", ok, err)
		}
	})

	t.Run("compare and swap honours not before", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()
		rec := newRecord("alice", "hash-1", now.Add(-10*time.Minute))
		_ = repo.Create(ctx, rec, time.Hour)

		ok, err := repo.CompareAndSwap(ctx, rec.Token, Transition{
			From: domain.StatusPending, To: domain.StatusApproved, NotBefore: now.Add(-5 * time.Minute), Actor: "root", At: now,
		})
		if err != nil || ok {
			t.Errorf("CAS on expired record = %v, %v; want false, nil", ok, err)
		}
		got, _ := repo.GetByToken(ctx, rec.Token)
		if got.Status != domain.StatusPending {
			t.Errorf("status = %q, want pending", got.Status)
		}
	})

	t.Run("concurrent compare and swap has one winner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()
		rec := newRecord("alice", "hash-1", now)
		_ = repo.Create(ctx, rec, time.Hour)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := domain.StatusApproved
				if i%2 == 1 {
					to = domain.StatusDenied
				}
				ok, err := repo.CompareAndSwap(ctx, rec.Token, Transition{From: domain.StatusPending, To: to, Actor: "a", At: now})
				if err != nil {
					t.Errorf("CAS: %v", err)
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Errorf("winners = %d, want 1", wins.Load())
		}
	})

	t.Run("increment attempts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newRecord("alice", "hash-1", time.Now().UTC())
		_ = repo.Create(ctx, rec, time.Hour)

		for want := 1; want <= 3; want++ {
			n, err := repo.IncrementAttempts(ctx, rec.Token)
			if err != nil || n != want {
				t.Fatalf("IncrementAttempts #%d = %d, %v", want, n, err)
			}
		}
		got, _ := repo.GetByToken(ctx, rec.Token)
		if got.Attempts != 3 || got.Status != domain.StatusPending {
			t.Errorf("unexpected record after increments %+v", got)
		}
		n, err := repo.IncrementAttempts(ctx, uuid.NewString())
		if err != nil || n != 0 {
			t.Errorf("IncrementAttempts(missing) = %d, %v; want 0, nil", n, err)
		}
		if got, _ := repo.GetByToken(ctx, uuid.NewString()); got != nil {
			t.Error("increment must not create a record")
		}
	})

	t.Run("concurrent increments are all counted", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newRecord("alice", "hash-1", time.Now().UTC())
		_ = repo.Create(ctx, rec, time.Hour)

		var mu sync.Mutex
		seen := make(map[int]bool)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := repo.IncrementAttempts(ctx, rec.Token)
				if err != nil {
					t.Errorf("IncrementAttempts: %v", err)
					return
				}
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		if len(seen) != 20 {
			t.Errorf("distinct counts = %d, want 20", len(seen))
		}
		got, _ := repo.GetByToken(ctx, rec.Token)
		if got.Attempts != 20 {
			t.Errorf("Attempts = %d, want 20", got.Attempts)
		}
	})

	t.Run("find pending is scoped to username", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()
		alice := newRecord("alice", "same-hash", now)
		_ = repo.Create(ctx, alice, time.Hour)

		got, err := repo.FindPending(ctx, "alice", "same-hash", now.Add(-time.Minute))
		if err != nil || got == nil || got.Token != alice.Token {
			t.Fatalf("FindPending(alice) = %+v, %v", got, err)
		}
		got, err = repo.FindPending(ctx, "bob", "same-hash", now.Add(-time.Minute))
		if err != nil || got != nil {
			t.Errorf("FindPending(bob) = %+v, %v; want nil", got, err)
		}
		got, _ = repo.FindPending(ctx, "alice", "other-hash", now.Add(-time.Minute))
		if got != nil {
			t.Error("wrong code hash must not match")
		}
		got, _ = repo.FindPending(ctx, "alice", "same-hash", now.Add(time.Minute))
		if got != nil {
			t.Error("record older than notBefore must not match")
		}

		_, _ = repo.CompareAndSwap(ctx, alice.Token, Transition{From: domain.StatusPending, To: domain.StatusDenied, At: now})
		got, _ = repo.FindPending(ctx, "alice", "same-hash", now.Add(-time.Minute))
		if got != nil {
			t.Error("resolved record must not match")
		}
	})
}

func newRecord(username, codeHash string, created time.Time) *domain.Record {
	return &domain.Record{
		Token:     uuid.NewString(),
		Username:  username,
		CodeHash:  codeHash,
		Status:    domain.StatusPending,
		ClientIP:  "203.0.113.7",
		CreatedAt: created,
	}
}
