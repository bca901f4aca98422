// worker consumes user.created events from the broker and maintains the
// dependent service's profile rows. Runs alongside the server binary; safe to
// restart at any time because the consumer is idempotent.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"session-authority/internal/config"
	"session-authority/internal/db"
	"session-authority/internal/events"
	"session-authority/internal/profile"
	profilerepo "session-authority/internal/profile/repository"
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

	bus, err := events.Dial(cfg.AMQPURL, 2*time.Second, logger)
	if err != nil {
		logger.Error("broker unreachable", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := profile.NewConsumer(profilerepo.NewPostgresRepository(pool), logger)
	err = bus.Subscribe(ctx, events.ExchangeUser, events.RoutingKeyUserCreated, events.QueueUserCreated, consumer.HandleUserCreated)
	if err != nil {
		logger.Error("subscribe", "queue", events.QueueUserCreated, "error", err)
		os.Exit(1)
	}
	logger.Info("worker consuming", "queue", events.QueueUserCreated)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("worker shutting down")
	cancel()
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
