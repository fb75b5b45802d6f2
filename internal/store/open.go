package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/config"
)

// Open creates the DocumentStore selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Info("using in-memory document store")
		return NewMemoryStore(), nil
	case config.StoreBackendMongo:
		return NewMongoStore(ctx, MongoConfig{
			URI:                    cfg.MongoURI,
			Database:               cfg.MongoDatabase,
			Collection:             cfg.MongoCollection,
			ServerSelectionTimeout: cfg.ServerSelectionTimeout,
			ConnectTimeout:         cfg.ConnectTimeout,
			SocketTimeout:          cfg.SocketTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("open store: unknown backend %q", cfg.StoreBackend)
	}
}
