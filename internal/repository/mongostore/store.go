// Package mongostore MongoDB 存储，沿用现有集合与字段名
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// 集合名称
const (
	CollectionUsers         = "users"
	CollectionPrompts       = "prompts"
	CollectionConversations = "conversations"
	CollectionAdminCodes    = "admin_codes"
	CollectionLogs          = "logs"
	CollectionCounters      = "counters"
)

// Store MongoDB 实现
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// New 使用已连接的客户端，Close 时断开
func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, db: client.Database(database), logger: logger}
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s.db.Collection(CollectionUsers)} }
func (s *Store) Prompts() repository.PromptRepository             { return promptRepo{s.db.Collection(CollectionPrompts)} }
func (s *Store) Conversations() repository.ConversationRepository { return conversationRepo{s.db.Collection(CollectionConversations)} }
func (s *Store) AdminCodes() repository.AdminCodeRepository       { return adminRepo{s.db.Collection(CollectionAdminCodes)} }
func (s *Store) Logs() repository.LogRepository                   { return logRepo{s.db.Collection(CollectionLogs)} }
func (s *Store) Counters() repository.CounterRepository           { return counterRepo{s.db.Collection(CollectionCounters)} }

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 断开客户端
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes 创建查询所需索引。
// prompt_id 与 conversation_id 不建唯一索引：历史数据存在重复，修复脚本重新编号时会短暂冲突。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionUsers: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollectionAdminCodes: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		CollectionPrompts: {
			{Keys: bson.D{{Key: "user_code", Value: 1}, {Key: "prompt_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_code", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		CollectionConversations: {
			{Keys: bson.D{{Key: "user_code", Value: 1}, {Key: "conversation_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_code", Value: 1}, {Key: "updated_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		CollectionLogs: {
			{Keys: bson.D{{Key: "user_code", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	s.logger.Info("MongoDB indexes ensured", zap.String("database", s.db.Name()))
	return nil
}

// notFound 把 ErrNoDocuments 转换为 repository.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	return err
}

func objectID(ref string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(ref)
	if err != nil {
		return id, fmt.Errorf("%w: invalid ref %q", repository.ErrNotFound, ref)
	}
	return id, nil
}

func refOf(result *mongo.InsertOneResult) string {
	if id, ok := result.InsertedID.(bson.ObjectID); ok {
		return id.Hex()
	}
	return fmt.Sprint(result.InsertedID)
}
