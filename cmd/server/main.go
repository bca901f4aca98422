// server runs the session authority's HTTP API, the reaper, and the
// user.created publisher side of the event bus.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	accountrepo "session-authority/internal/account/repository"
	"session-authority/internal/auth/service"
	"session-authority/internal/cache"
	"session-authority/internal/config"
	"session-authority/internal/db"
	"session-authority/internal/events"
	"session-authority/internal/mail"
	"session-authority/internal/reaper"
	"session-authority/internal/security"
	"session-authority/internal/server"
	sessionrepo "session-authority/internal/session/repository"
	tokenrepo "session-authority/internal/token/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := cache.Dial(bootCtx, cfg.RedisAddr, cfg.RedisPassword)
	bootCancel()
	if err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	bus, err := events.Dial(cfg.AMQPURL, 2*time.Second, logger)
	if err != nil {
		logger.Error("broker unreachable", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	codec, err := security.NewTokenCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		logger.Error("token codec", "error", err)
		os.Exit(1)
	}

	accounts := accountrepo.NewPostgresRepository(pool)
	sessions := sessionrepo.NewPostgresRepository(pool)
	tokens := tokenrepo.NewPostgresRepository(pool)

	auth := service.NewAuthService(
		accounts, sessions, tokens, store,
		codec, security.NewHasher(cfg.BcryptCost),
		bus, &mail.LogMailer{Logger: logger}, logger,
		cfg.SessionLifetime(), cfg.RenewWithin(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.New(sessions, tokens, cfg.SweepInterval(), logger).Run(ctx)

	mux := http.NewServeMux()
	server.NewHandler(auth, codec, logger).Register(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
