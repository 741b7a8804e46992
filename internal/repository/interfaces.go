package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
)

var (
	// ErrNotFound 记录不存在（或不属于调用者）
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict 并发写入冲突，重试次数耗尽
	ErrConflict = errors.New("concurrent modification")
	// ErrNoMessages 追加时消息列表为空
	ErrNoMessages = errors.New("no messages to append")
)

// StatsFunc 根据完整消息列表重新计算 token 统计
type StatsFunc func(messages []models.Message) models.TokenStats

// UserRepository 用户仓库接口
type UserRepository interface {
	Get(ctx context.Context, code string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, code string, at time.Time) error
	SetConsent(ctx context.Context, code string, consent models.Consent) error
	List(ctx context.Context) ([]models.User, error)
}

// PromptRepository 提示词仓库接口
type PromptRepository interface {
	Insert(ctx context.Context, prompt *models.Prompt) error
	// Find 按所有者和编号查询，所有权在查询条件中校验
	Find(ctx context.Context, owner, promptID string) (*models.Prompt, error)
	// FindAnyOwner 不校验所有者，供管理工具使用
	FindAnyOwner(ctx context.Context, promptID string) (*models.Prompt, error)
	// ListByUser 按创建时间倒序；withContent 为 false 时不加载文档正文
	ListByUser(ctx context.Context, owner string, withContent bool) ([]models.Prompt, error)
	// ListAll 按创建时间正序，不加载文档正文
	ListAll(ctx context.Context) ([]models.Prompt, error)
	UpdatePromptID(ctx context.Context, ref, promptID string) error
	// ListNeedingTokenBackfill 缺少任一 token 字段或仍带旧 token_count 字段的提示词
	ListNeedingTokenBackfill(ctx context.Context) ([]models.Prompt, error)
	// SetTokenCounts 写入三个 token 字段并移除旧字段
	SetTokenCounts(ctx context.Context, ref string, promptTokens, documentTokens, totalTokens int) error
	Count(ctx context.Context) (int64, error)
	CountByUser(ctx context.Context, owner string) (int64, error)
}

// ConversationRepository 对话仓库接口
type ConversationRepository interface {
	Insert(ctx context.Context, conv *models.Conversation) error
	Find(ctx context.Context, owner, conversationID string) (*models.Conversation, error)
	FindSummary(ctx context.Context, owner, conversationID string) (*models.ConversationSummary, error)
	// ListSummaries 按更新时间倒序
	ListSummaries(ctx context.Context, owner string) ([]models.ConversationSummary, error)
	// AppendMessages 按顺序追加一条或多条消息并以 stats 重新计算统计，消息、统计与 updated_at 一次写入
	AppendMessages(ctx context.Context, owner, conversationID string, msgs []models.Message, stats StatsFunc) (*models.Conversation, error)
	// ListAll 按创建时间正序；withMessages 为 false 时不加载消息
	ListAll(ctx context.Context, withMessages bool) ([]models.Conversation, error)
	UpdateConversationID(ctx context.Context, ref, conversationID string) error
	// ReplaceTokenStats 覆盖消息 token 计数与统计，消息条数必须不变
	ReplaceTokenStats(ctx context.Context, ref string, messages []models.Message, stats models.TokenStats) error
	Totals(ctx context.Context) (models.ConversationTotals, error)
	CountByUser(ctx context.Context, owner string) (int64, error)
}

// AdminCodeRepository 管理员码仓库接口
type AdminCodeRepository interface {
	// Find 返回任意状态的记录
	Find(ctx context.Context, code string) (*models.AdminCode, error)
	FindActive(ctx context.Context, code string) (*models.AdminCode, error)
	Insert(ctx context.Context, admin *models.AdminCode) error
	// Reactivate 重新启用已停用的码
	Reactivate(ctx context.Context, code string, level models.AdminLevel, addedBy string, at time.Time) error
	// Deactivate 仅对有效且非 super_admin 的码生效，返回是否修改
	Deactivate(ctx context.Context, code, removedBy string, at time.Time) (bool, error)
	// List 按创建时间倒序
	List(ctx context.Context, includeInactive bool) ([]models.AdminCode, error)
	CountActive(ctx context.Context) (int64, error)
}

// LogRepository 审计日志仓库接口
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	// ListByUser 按时间倒序，limit <= 0 表示不限
	ListByUser(ctx context.Context, userCode string, limit int) ([]models.LogEntry, error)
}

// CounterRepository 序号计数器
type CounterRepository interface {
	// Increment 原子自增并返回新值，首次使用返回 1
	Increment(ctx context.Context, key models.CounterKey) (int64, error)
	// Set 直接写入计数值，仅供修复脚本使用
	Set(ctx context.Context, key models.CounterKey, value int64) error
	// Get 返回当前值，不存在时为 0
	Get(ctx context.Context, key models.CounterKey) (int64, error)
}

// Store 持久化存储句柄，显式打开与关闭
type Store interface {
	Users() UserRepository
	Prompts() PromptRepository
	Conversations() ConversationRepository
	AdminCodes() AdminCodeRepository
	Logs() LogRepository
	Counters() CounterRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
