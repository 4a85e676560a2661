// server runs the admin panel: login endpoints, the session-guarded API and, when BOT_EMBEDDED is
// set, the Telegram approval bot in the same process.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	bottelegram "webpanel-gate/internal/bot/telegram"
	"webpanel-gate/internal/config"
	"webpanel-gate/internal/notifier/telegram"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/server"
	"webpanel-gate/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logx.New(logx.Options{Service: cfg.ServiceName, Env: cfg.Env, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := server.NewTelemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	stores, err := server.OpenStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("stores: %v", err)
	}
	defer stores.Close()

	var bot *tgbotapi.BotAPI
	if cfg.TelegramConfigured() {
		bot, err = telegram.NewBotAPI(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, nil)
		if err != nil {
			logger.Error("telegram: bot API unavailable; approval messages will not be sent", "error", err)
			bot = nil
		}
	}
	opts := server.Options{Events: tel.Emitter, Logger: logger}
	if bot != nil {
		opts.Telegram = bot
	}
	app, err := server.NewApp(ctx, cfg, stores, opts)
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	if cfg.BotEmbedded && bot != nil {
		runner := bottelegram.NewRunner(bot, app.Bot, logger)
		go func() {
			if err := runner.Run(ctx); err != nil {
				logger.Error("bot: runner stopped", "error", err)
			}
		}()
	} else if !app.Health.Check(ctx).Durable {
		logger.Warn("bot: not embedded and no durable store; a separate bot process cannot see verifications")
	}
	if d := cfg.SweepInterval(); d > 0 {
		go app.Verifications.RunSweeper(ctx, d)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(app, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	logger.Info("http server stopped")
}
