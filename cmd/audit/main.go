package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chainflow/pipeline/internal/config"
	"github.com/chainflow/pipeline/internal/retry"
	"github.com/chainflow/pipeline/internal/server"
	"github.com/chainflow/pipeline/internal/stage/audit"
	"github.com/chainflow/pipeline/internal/storage/sqldb"
	"github.com/chainflow/pipeline/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.Defaults{
		ServiceName: "audit-service",
		Port:        8083,
	})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Service.Name, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqldb.New(context.Background(),
		sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN},
		retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay})
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer store.Close()

	handler := audit.NewHandler(cfg.Service.Name, store, logger)

	srv := server.New(cfg.Service.Name, cfg.Server.Port, logger)
	handler.Register(srv.Router)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.String("error", err.Error()))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
