package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	auditrepo "webpanel-gate/internal/audit/repository"
	"webpanel-gate/internal/config"
	"webpanel-gate/internal/db"
	healthhandler "webpanel-gate/internal/health/handler"
	mfarepo "webpanel-gate/internal/mfa/repository"
	settingsrepo "webpanel-gate/internal/platformsettings/repository"
	sessionrepo "webpanel-gate/internal/session/repository"
)

const auditMemoryMax = 1000

// Stores holds the repositories shared by the web and bot processes.
type Stores struct {
	Verifications mfarepo.Repository
	Info          healthhandler.StoreInfo
	Sessions      sessionrepo.Repository
	Settings      settingsrepo.Repository
	Audit         auditrepo.Repository

	db    *sql.DB
	redis *redis.Client
}

// OpenStores connects the backends selected by cfg. A durable verification store is wrapped with
// an in-process fallback; running without one is logged at WARN as degraded mode.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stores{}

	if cfg.DatabaseURL != "" && (cfg.VerifyStore != config.StoreMemory || cfg.SessionStore != config.StoreMemory) {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			if cfg.VerifyStore == config.StorePostgres || cfg.SessionStore == config.StorePostgres {
				return nil, err
			}
			logger.Warn("store: postgres unreachable, continuing without it", "error", err)
		} else {
			s.db = conn
		}
	}
	if cfg.RedisURL != "" && (cfg.VerifyStore != config.StoreMemory || cfg.SessionStore != config.StoreMemory) {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := s.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("store: redis unreachable at startup; writes fall back to memory until it returns", "error", err)
		}
		cancel()
	}

	s.Verifications, s.Info = s.verificationStore(cfg, logger)
	s.Sessions = s.sessionStore(cfg)

	if s.db != nil {
		s.Settings = settingsrepo.NewPostgresRepository(s.db)
		s.Audit = auditrepo.NewPostgresRepository(s.db)
	} else {
		s.Settings = settingsrepo.NewMemoryRepository()
		s.Audit = auditrepo.NewMemoryRepository(auditMemoryMax)
	}
	logger.Info("store: ready",
		"verification_store", s.Info.Name,
		"durable", s.Info.Durable,
		"session_store", storeName(cfg.SessionStore, s),
	)
	return s, nil
}

func (s *Stores) verificationStore(cfg *config.Config, logger *slog.Logger) (mfarepo.Repository, healthhandler.StoreInfo) {
	var primary mfarepo.Repository
	var name string
	switch storeName(cfg.VerifyStore, s) {
	case config.StoreRedis:
		primary, name = mfarepo.NewRedisRepository(s.redis, ""), config.StoreRedis
	case config.StorePostgres:
		primary, name = mfarepo.NewPostgresRepository(s.db), config.StorePostgres
	}
	if primary == nil {
		logger.Warn("verification: degraded mode, no durable store configured; records live in process memory and the bot must run embedded (BOT_EMBEDDED=true)")
		return mfarepo.NewMemoryRepository(), healthhandler.StoreInfo{Name: config.StoreMemory}
	}
	fallback := mfarepo.NewFallbackRepository(primary, mfarepo.NewMemoryRepository(), logger)
	return fallback, healthhandler.StoreInfo{Name: name, Durable: true, Fallback: true}
}

func (s *Stores) sessionStore(cfg *config.Config) sessionrepo.Repository {
	switch storeName(cfg.SessionStore, s) {
	case config.StoreRedis:
		return sessionrepo.NewRedisRepository(s.redis, "")
	case config.StorePostgres:
		return sessionrepo.NewPostgresRepository(s.db)
	}
	return sessionrepo.NewMemoryRepository()
}

// storeName resolves a configured store (possibly auto) against the connected backends.
func storeName(want string, s *Stores) string {
	switch want {
	case config.StoreRedis:
		if s.redis != nil {
			return config.StoreRedis
		}
	case config.StorePostgres:
		if s.db != nil {
			return config.StorePostgres
		}
	case config.StoreAuto:
		if s.redis != nil {
			return config.StoreRedis
		}
		if s.db != nil {
			return config.StorePostgres
		}
	}
	return config.StoreMemory
}

// DB returns the Postgres pool, or nil when none is configured.
func (s *Stores) DB() *sql.DB { return s.db }

// Close releases the backend connections.
func (s *Stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
