package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"webpanel-gate/internal/db"
	"webpanel-gate/internal/db/migrate"
)

func TestPostgresRepository_Contract(t *testing.T) {
	dsn := os.Getenv("WEBPANEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WEBPANEL_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	runContract(t, func(t *testing.T) Repository {
		t.Cleanup(func() {
			_, _ = conn.ExecContext(context.Background(), `DELETE FROM mfa_verifications`)
		})
		return NewPostgresRepository(conn)
	})

	t.Run("sweep", func(t *testing.T) {
		repo := NewPostgresRepository(conn)
		ctx := context.Background()
		old := newRecord("sweep-user", "h", time.Now().UTC().Add(-2*time.Hour))
		if err := repo.Create(ctx, old, time.Hour); err != nil {
			t.Fatalf("Create: %v", err)
		}
		n, err := repo.Sweep(ctx, time.Now().UTC())
		if err != nil || n < 1 {
			t.Errorf("Sweep = %d, %v", n, err)
		}
	})
}
