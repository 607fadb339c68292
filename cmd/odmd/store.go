package main

import (
	"context"
	"time"

	"github.com/gogotex/gogotex/backend/odm/internal/config"
	"github.com/gogotex/gogotex/backend/odm/internal/database"
	"github.com/gogotex/gogotex/backend/odm/internal/driver"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
)

var connectMongo = database.ConnectMongoWithRetry

var mongoRetry = database.Retry{Attempts: 5, Backoff: time.Second}

// openStore returns the storage driver and its cleanup. Without a URI, or when
// MongoDB stays unreachable after the retries, documents live in memory.
func openStore(ctx context.Context, cfg config.MongoDBConfig) (driver.Driver, func()) {
	if cfg.URI == "" {
		logger.Warnf("MONGODB_URI is not set; using the in-memory driver")
		return driver.NewMemory(), func() {}
	}
	client, err := connectMongo(ctx, cfg.URI, cfg.Timeout, mongoRetry)
	if err != nil {
		logger.Errorf("%v; falling back to the in-memory driver", err)
		return driver.NewMemory(), func() {}
	}
	logger.Infof("using MongoDB database %s", cfg.Database)
	return driver.NewMongo(client.Database(cfg.Database)), func() { _ = client.Disconnect(context.Background()) }
}
