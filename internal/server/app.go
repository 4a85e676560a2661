// Package server composes the repositories, services and transports of the web and bot processes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"

	"webpanel-gate/internal/audit"
	"webpanel-gate/internal/bot"
	"webpanel-gate/internal/config"
	"webpanel-gate/internal/devotp"
	healthhandler "webpanel-gate/internal/health/handler"
	identitydomain "webpanel-gate/internal/identity/domain"
	identityrepo "webpanel-gate/internal/identity/repository"
	identityservice "webpanel-gate/internal/identity/service"
	mfaservice "webpanel-gate/internal/mfa/service"
	"webpanel-gate/internal/mfa/sms"
	"webpanel-gate/internal/notifier"
	"webpanel-gate/internal/notifier/telegram"
	"webpanel-gate/internal/platform/rbac"
	"webpanel-gate/internal/platformsettings"
	"webpanel-gate/internal/policy/engine"
	"webpanel-gate/internal/security"
	"webpanel-gate/internal/server/interceptors"
	"webpanel-gate/internal/session"
	"webpanel-gate/internal/telemetry"
)

// App is the wired set of services. The web process uses all of it; the bot process uses
// Verifications, Bot and Health.
type App struct {
	Config        *config.Config
	Stores        *Stores
	Audit         audit.AuditLogger
	Events        telemetry.EventEmitter
	Verifications *mfaservice.Service
	Sessions      *session.Manager
	Settings      *platformsettings.Service
	Notifier      *notifier.FanOut
	Policy        *engine.OPAEvaluator
	Auth          *identityservice.AuthService
	Admins        *rbac.AdminSet
	Bot           *bot.Handler
	Health        *healthhandler.Checker
	// TrustedProxies are the peers whose forwarding headers name the client. Empty trusts none.
	TrustedProxies []netip.Prefix
	// DevCodes is set only when dev code capture is on (OTP_RETURN_TO_CLIENT, never in production).
	DevCodes *devotp.MemoryStore
}

// Options are the process-specific collaborators of NewApp.
type Options struct {
	// Telegram sends verification messages. Nil leaves Telegram out of the notifier.
	Telegram telegram.Client
	Events   telemetry.EventEmitter
	Logger   *slog.Logger
}

// NewApp wires the services over stores.
func NewApp(ctx context.Context, cfg *config.Config, stores *Stores, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adminIDs, err := cfg.TelegramAdminIDList()
	if err != nil {
		return nil, err
	}
	proxies, err := cfg.TrustedProxyList()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Stores: stores,
		Audit:  audit.NewLogger(stores.Audit, interceptors.ClientIP),
		Events: opts.Events,
		Admins: rbac.NewAdminSet(adminIDs),

		TrustedProxies: proxies,
	}
	a.Verifications = mfaservice.NewService(stores.Verifications, cfg.VerificationTTL(), cfg.VerificationRetention(), a.Audit, a.Events).
		WithMaxAttempts(cfg.MFAMaxAttempts)
	a.Sessions = session.NewManager(stores.Sessions, cfg.SessionTTL(), a.Events)
	a.Settings = platformsettings.NewService(stores.Settings, cfg.TelegramAuthEnabled, a.Audit)
	a.Bot = bot.NewHandler(a.Verifications, a.Admins, a.Audit)

	a.Policy, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.MFAPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("mfa policy: %w", err)
	}
	a.Health = healthhandler.NewChecker(a.Verifications, stores.Info, a.Policy)

	if cfg.OTPReturnToClient && cfg.Env != "production" {
		a.DevCodes = devotp.NewMemoryStore()
		logger.Warn("devotp: dev code capture enabled; codes are readable at /dev/verification/code")
	}
	a.Notifier = notifier.NewFanOut(a.destinations(opts.Telegram), notifier.Options{
		Timeout:    cfg.NotifyTimeout(),
		MaxRetries: cfg.NotifyMaxRetries,
		Logger:     logger,
	})
	if a.Notifier.Destinations() == 0 && cfg.TelegramAuthEnabled {
		logger.Warn("notifier: bot approval is enabled but no destination is configured; logins will fail until one is")
	}

	identities := identityrepo.NewStaticRepository(identitydomain.Identity{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
	})
	a.Auth = identityservice.NewAuthService(
		identities,
		security.NewHasher(cfg.BcryptCost),
		a.Verifications,
		a.Notifier,
		a.Sessions,
		a.Settings,
		a.Policy,
		a.Audit,
		a.Events,
	)
	return a, nil
}

// destinations lists every configured recipient: each Telegram admin chat, each SMS number and the
// dev code capture.
func (a *App) destinations(tg telegram.Client) []notifier.Destination {
	var out []notifier.Destination
	if tg != nil && a.Config.TelegramBotToken != "" {
		sender := telegram.NewSender(tg)
		for _, id := range a.Admins.IDs() {
			out = append(out, notifier.Destination{Name: "telegram:" + id, Sender: sender, Address: id})
		}
	}
	if a.Config.SMSLocalAPIKey != "" {
		client := sms.NewSMSLocalClient(a.Config.SMSLocalAPIKey, a.Config.SMSLocalBaseURL, a.Config.SMSLocalSender)
		for i, number := range a.Config.SMSAdminNumberList() {
			out = append(out, notifier.Destination{Name: "sms:" + strconv.Itoa(i), Sender: client, Address: number})
		}
	}
	if a.DevCodes != nil {
		out = append(out, notifier.Destination{Name: "devotp", Sender: devotp.NewSender(a.DevCodes, a.Config.VerificationTTL())})
	}
	return out
}
