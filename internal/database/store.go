package database

import (
	"context"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/mongostore"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/redisstore"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// OpenStore 按 store.driver 打开存储；启用 Redis 时计数器改由 Redis 维护。
// reg 非空时为 SQL 连接池注册指标。
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (repository.Store, error) {
	if cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
	}

	store, err := openPrimary(ctx, cfg, logger, reg)
	if err != nil {
		return nil, err
	}

	if !cfg.Redis.Enabled {
		return store, nil
	}
	rdb, err := OpenRedis(ctx, cfg.Redis)
	if err != nil {
		_ = store.Close(context.Background())
		return nil, err
	}
	logger.Info("Using Redis counters", zap.String("addr", cfg.Redis.Addr()))
	counters := redisstore.NewCounters(rdb, cfg.Redis.KeyPrefix)
	return repository.WithCounters(store, counters, func(context.Context) error { return rdb.Close() }), nil
}

func openPrimary(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on exit")
		return memory.New(), nil

	case "mongo":
		client, err := OpenMongo(ctx, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(client, cfg.MongoDB.DatabaseName, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.Info("MongoDB store ready", zap.String("database", cfg.MongoDB.DatabaseName))
		return store, nil

	case "postgres", "sqlite":
		db, err := OpenSQL(cfg.Store.Driver, cfg.SQL)
		if err != nil {
			return nil, err
		}
		store := sqlstore.New(db, logger)
		if reg != nil {
			if sqlDB, err := db.DB(); err == nil {
				if err := reg.Register(NewPoolCollector(sqlDB, cfg.Metrics.Namespace)); err != nil {
					logger.Warn("Failed to register pool metrics", zap.Error(err))
				}
			}
		}
		if cfg.SQL.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				_ = store.Close(context.Background())
				return nil, err
			}
		}
		logger.Info("SQL store ready", zap.String("driver", cfg.Store.Driver))
		return store, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
