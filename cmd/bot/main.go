// bot runs the Telegram approval bot as its own process, with a gRPC health endpoint. It needs a
// durable verification store shared with the panel (REDIS_URL or DATABASE_URL).
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bottelegram "webpanel-gate/internal/bot/telegram"
	"webpanel-gate/internal/config"
	healthhandler "webpanel-gate/internal/health/handler"
	"webpanel-gate/internal/notifier/telegram"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/server"
	"webpanel-gate/internal/server/interceptors"
	"webpanel-gate/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.TelegramBotToken == "" {
		log.Fatalf("config: TELEGRAM_BOT_TOKEN must be set")
	}
	logger := logx.New(logx.Options{Service: cfg.ServiceName + "-bot", Env: cfg.Env, Level: cfg.LogLevel})

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
	if !stores.Info.Durable {
		log.Fatalf("stores: the bot process needs a durable verification store; set REDIS_URL or DATABASE_URL, or run the bot embedded in the server")
	}

	api, err := telegram.NewBotAPI(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, nil)
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}
	app, err := server.NewApp(ctx, cfg, stores, server.Options{Telegram: api, Events: tel.Emitter, Logger: logger})
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	if app.Admins.Len() == 0 {
		logger.Warn("bot: TELEGRAM_ADMIN_IDS is empty; every action will be rejected")
	}

	lis, err := net.Listen("tcp", cfg.BotGRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(interceptors.TelemetryUnary(tel.Emitter, map[string]bool{
			healthpb.Health_Check_FullMethodName: true,
		})),
	)
	healthpb.RegisterHealthServer(s, healthhandler.NewGRPCServer(app.Health))

	go func() {
		logger.Info("gRPC health server listening", "addr", cfg.BotGRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()
	if d := cfg.SweepInterval(); d > 0 {
		go app.Verifications.RunSweeper(ctx, d)
	}

	runner := bottelegram.NewRunner(api, app.Bot, logger)
	if err := runner.Run(ctx); err != nil {
		logger.Error("bot: runner stopped", "error", err)
	}

	logger.Info("shutting down gRPC server...")
	s.GracefulStop()
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	logger.Info("gRPC server stopped")
}
