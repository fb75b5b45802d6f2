// Package main is the entry point for the items API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/auth"
	"github.com/vyrodovalexey/mongo-items-api/internal/config"
	"github.com/vyrodovalexey/mongo-items-api/internal/logging"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/server"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("mongo_database", cfg.MongoDatabase),
		zap.String("mongo_collection", cfg.MongoCollection),
		zap.String("auth_mode", cfg.AuthMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// serve runs the API until ctx is cancelled, then shuts down within
// cfg.ShutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	docs, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := docs.Close(closeCtx); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	authenticator, err := auth.FromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	srv := server.New(cfg, logger, repository.New(docs, logger), authenticator)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	return <-serverErrors
}
