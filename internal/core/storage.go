package core

import (
	"circlereports/internal/config"
	"circlereports/internal/infra/persistence/badger"
	"circlereports/internal/infra/persistence/fs"
	"circlereports/internal/infra/persistence/memory"
	"circlereports/internal/infra/persistence/postgres"
	"circlereports/internal/infra/persistence/sqlite"
	"circlereports/internal/infra/persistence/sqlstore"
	"circlereports/pkg/domain"
	"context"
	"fmt"
	"log/slog"
)

// OpenStorage opens the persistence driver selected by cfg. Paths are used as
// given; config.Load resolves them against the data directory.
func OpenStorage(ctx context.Context, cfg config.Storage, logger *slog.Logger) (domain.Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", config.StorageFilesystem:
		return fs.New("", cfg.RecordsDir, cfg.HistoryDir, fs.WithLogger(logger))
	case config.StorageMemory:
		return memory.NewStore(nil), nil
	case config.StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath, sqlstore.WithLogger(logger))
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, sqlstore.WithLogger(logger))
	case config.StorageBadger:
		bcfg := badger.DefaultConfig(cfg.BadgerPath)
		bcfg.Logger = logger
		return badger.Open(bcfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
