// Package sqlstore 基于 GORM 的关系型存储，支持 PostgreSQL 与 SQLite
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store GORM 实现
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New 包装已打开的连接，Close 时关闭底层 sql.DB
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// DB 返回底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s.db} }
func (s *Store) Prompts() repository.PromptRepository             { return promptRepo{s.db} }
func (s *Store) Conversations() repository.ConversationRepository { return conversationRepo{s.db} }
func (s *Store) AdminCodes() repository.AdminCodeRepository       { return adminRepo{s.db} }
func (s *Store) Logs() repository.LogRepository                   { return logRepo{s.db} }
func (s *Store) Counters() repository.CounterRepository           { return counterRepo{s.db} }

// AutoMigrate 按行结构创建或更新表
func (s *Store) AutoMigrate(ctx context.Context) error {
	tables := []interface{}{
		&userRow{},
		&promptRow{},
		&conversationRow{},
		&adminCodeRow{},
		&logRow{},
		&counterRow{},
	}
	if err := s.db.WithContext(ctx).AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	s.logger.Info("SQL tables migrated", zap.String("dialect", s.db.Dialector.Name()))
	return nil
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound 把 gorm.ErrRecordNotFound 转换为 repository.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

// isDuplicate 同时识别 TranslateError 的结果和驱动原始错误
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func parseRef(ref string) (uint64, error) {
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid ref %q", repository.ErrNotFound, ref)
	}
	return id, nil
}
