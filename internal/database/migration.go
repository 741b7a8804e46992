package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationManager PostgreSQL 版本化迁移，迁移文件编译进二进制
type MigrationManager struct {
	migrate *migrate.Migrate
	logger  *logrus.Logger
}

// NewMigrationManager 基于已打开的连接创建迁移管理器
func NewMigrationManager(db *sql.DB, logger *logrus.Logger) (*MigrationManager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &MigrationManager{migrate: m, logger: logger}, nil
}

// Up 执行全部待执行迁移
func (mm *MigrationManager) Up() error {
	mm.logger.Info("Starting database migration up")
	err := mm.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mm.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	mm.logger.Info("Database migrations completed successfully")
	return nil
}

// Goto 迁移到指定版本，向上或向下
func (mm *MigrationManager) Goto(version uint) error {
	mm.logger.Infof("Migrating to version %d", version)
	if err := mm.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate to version %d: %w", version, err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (mm *MigrationManager) Down() error {
	mm.logger.Info("Rolling back last migration")
	if err := mm.migrate.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// Version 当前版本；尚未迁移时返回 0
func (mm *MigrationManager) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force 强制设置版本，用于修复脏状态
func (mm *MigrationManager) Force(version int) error {
	mm.logger.Warnf("Force setting migration version to %d", version)
	if err := mm.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close 释放迁移源与数据库驱动
func (mm *MigrationManager) Close() error {
	sourceErr, dbErr := mm.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// LatestVersion 编译进来的最新迁移版本
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := source.Next(version)
		if err != nil {
			// 没有更多迁移
			return version, nil
		}
		version = next
	}
}
