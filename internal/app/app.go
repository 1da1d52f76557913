// Package app wires configuration into the stores and adapters shared by the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"hompare/config"
	"hompare/internal/cache"
	"hompare/internal/database"
	"hompare/internal/database/postgres"
	"hompare/internal/storage"
)

// Backend is a store that can be read and loaded.
type Backend interface {
	storage.Store
	storage.HierarchyWriter
	storage.EntryWriter
}

// NewLogger returns a JSON logger on stdout. An unknown level falls back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// OpenStore opens and migrates the backend selected by DB_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Backend, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		path := cfg.Database.SQLitePath
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		logger.WithField("path", path).Info("Using SQLite database")

		db, err := database.NewDatabase(path, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Running database migrations...")
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return db, nil

	case config.DriverPostgres:
		logger.Info("Using Postgres database")
		pool, err := postgres.NewPool(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("Running database migrations...")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return postgres.NewStore(pool), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// OpenCache connects to Redis when REDIS_ADDR is set. Without it, or when Redis
// cannot be reached, results are not cached.
func OpenCache(cfg *config.Config, logger *logrus.Logger) cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		return cache.Noop{}
	}

	c, err := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	if err != nil {
		logger.WithError(err).WithField("addr", cfg.Cache.RedisAddr).Warn("Redis unavailable, caching disabled")
		return cache.Noop{}
	}
	logger.WithField("addr", cfg.Cache.RedisAddr).Info("Caching query results in Redis")
	return c
}
