package services

import (
	"context"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// StatsService 管理端使用统计
type StatsService struct {
	store  repository.Store
	logger *zap.Logger
}

// NewStatsService 创建统计服务
func NewStatsService(store repository.Store, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{store: store, logger: logger}
}

// SystemStats 系统统计
type SystemStats struct {
	TotalUsers         int64                   `json:"total_users"`
	TotalPrompts       int64                   `json:"total_prompts"`
	Consent            models.ConsentBreakdown `json:"consent"`
	models.ConversationTotals
}

// UserActivity 单个用户的活动
type UserActivity struct {
	UserCode      string            `json:"user_code"`
	Prompts       int64             `json:"prompts"`
	Conversations int64             `json:"conversations"`
	RecentActions []models.LogEntry `json:"recent_actions"`
}

// SystemStatistics 用户、提示词、对话、消息与 token 合计
func (s *StatsService) SystemStatistics(ctx context.Context) (*SystemStats, error) {
	users, err := s.store.Users().List(ctx)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	stats := &SystemStats{TotalUsers: int64(len(users))}
	for _, u := range users {
		switch u.DataUseConsent {
		case models.ConsentGiven:
			stats.Consent.Given++
		case models.ConsentDeclined:
			stats.Consent.Declined++
		default:
			stats.Consent.Pending++
		}
	}

	if stats.TotalPrompts, err = s.store.Prompts().Count(ctx); err != nil {
		return nil, unavailable("count prompts", err)
	}
	if stats.ConversationTotals, err = s.store.Conversations().Totals(ctx); err != nil {
		return nil, unavailable("conversation totals", err)
	}
	return stats, nil
}

// UserActivity 用户的提示词数、对话数与最近的审计记录
func (s *StatsService) UserActivity(ctx context.Context, userCode string, recent int) (*UserActivity, error) {
	userCode = NormalizeCode(userCode)
	if err := validate.Struct(codeInput{Code: userCode}); err != nil {
		return nil, validationError(err)
	}
	activity := &UserActivity{UserCode: userCode}

	var err error
	if activity.Prompts, err = s.store.Prompts().CountByUser(ctx, userCode); err != nil {
		return nil, unavailable("count prompts", err)
	}
	if activity.Conversations, err = s.store.Conversations().CountByUser(ctx, userCode); err != nil {
		return nil, unavailable("count conversations", err)
	}
	if activity.RecentActions, err = s.store.Logs().ListByUser(ctx, userCode, recent); err != nil {
		return nil, unavailable("list logs", err)
	}
	return activity, nil
}
