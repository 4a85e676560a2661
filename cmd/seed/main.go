// seed prepares a local install: it prints the bcrypt hash for ADMIN_PASSWORD_HASH and, when
// DATABASE_URL is set, writes the initial bot-approval toggle. Idempotent.
//
//	go run ./cmd/seed -password 'secret'
//	go run ./cmd/seed -password 'secret' -telegram-auth=true
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"webpanel-gate/internal/audit"
	auditrepo "webpanel-gate/internal/audit/repository"
	"webpanel-gate/internal/config"
	"webpanel-gate/internal/db"
	"webpanel-gate/internal/platformsettings"
	settingsrepo "webpanel-gate/internal/platformsettings/repository"
	"webpanel-gate/internal/security"
)

const seedActor = "seed"

func main() {
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "Admin password to hash (or SEED_ADMIN_PASSWORD)")
	telegramAuth := flag.String("telegram-auth", "", "Write the bot-approval toggle: true or false (empty leaves it unchanged)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *password != "" {
		hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(*password))
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		fmt.Printf("ADMIN_USERNAME=%s\nADMIN_PASSWORD_HASH='%s'\n", cfg.AdminUsername, hash)
	}

	if *telegramAuth == "" {
		return
	}
	enabled := *telegramAuth == "true"
	if !enabled && *telegramAuth != "false" {
		log.Fatalf("-telegram-auth must be true or false, got %q", *telegramAuth)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; the toggle lives in the platform_settings table")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), nil)
	settings := platformsettings.NewService(settingsrepo.NewPostgresRepository(conn), cfg.TelegramAuthEnabled, auditLogger)
	current, err := settings.TelegramAuthEnabled(ctx)
	if err != nil {
		log.Fatalf("read setting: %v", err)
	}
	if current == enabled {
		log.Printf("telegram_auth_enabled already %t. Skipping.", enabled)
		return
	}
	if err := settings.SetTelegramAuthEnabled(ctx, enabled, seedActor); err != nil {
		log.Fatalf("write setting: %v", err)
	}
	log.Printf("telegram_auth_enabled set to %t", enabled)
}
