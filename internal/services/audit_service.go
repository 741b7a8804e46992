package services

import (
	"context"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// AuditMirror 审计事件的外部副本（例如 Kafka）
type AuditMirror interface {
	Publish(ctx context.Context, entry models.LogEntry) error
}

// AuditLogger 审计日志。写入失败只记录，不影响调用方。
type AuditLogger struct {
	logs    repository.LogRepository
	mirror  AuditMirror
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewAuditLogger 创建审计日志；mirror 可为 nil
func NewAuditLogger(logs repository.LogRepository, mirror AuditMirror, m *metrics.Collector, logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logs: logs, mirror: mirror, metrics: m, logger: logger, now: time.Now}
}

// Log 追加一条审计记录，返回是否写入成功
func (a *AuditLogger) Log(ctx context.Context, userCode, action string, data map[string]interface{}) bool {
	if a == nil {
		return false
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	entry := models.LogEntry{
		UserCode:  userCode,
		Action:    action,
		Data:      data,
		Timestamp: a.now().UTC(),
	}

	ok := true
	if err := a.logs.Append(ctx, &entry); err != nil {
		ok = false
		a.metrics.ObserveAuditFailure()
		a.logger.Warn("Failed to write audit log",
			zap.String("user_code", userCode),
			zap.String("action", action),
			zap.Error(err))
	}

	if a.mirror != nil {
		if err := a.mirror.Publish(ctx, entry); err != nil {
			a.logger.Warn("Failed to mirror audit log",
				zap.String("action", action),
				zap.Error(err))
		}
	}
	return ok
}

// LogChatMessage 记录一条聊天消息
func (a *AuditLogger) LogChatMessage(ctx context.Context, userCode, promptID string, role models.Role, content string, tokenCount int) bool {
	return a.Log(ctx, userCode, models.ActionChatMessage, map[string]interface{}{
		"prompt_id":         promptID,
		"role":              string(role),
		"content":           content,
		"token_count":       tokenCount,
		"message_timestamp": a.now().UTC().Format(time.RFC3339Nano),
	})
}

// LogPromptCreation 记录提示词创建
func (a *AuditLogger) LogPromptCreation(ctx context.Context, userCode, promptID, content string) bool {
	return a.Log(ctx, userCode, models.ActionPromptCreate, map[string]interface{}{
		"prompt_id":      promptID,
		"content":        content,
		"content_length": len([]rune(content)),
	})
}

// LogConversationStart 记录新对话
func (a *AuditLogger) LogConversationStart(ctx context.Context, userCode, conversationID, promptID string) bool {
	return a.Log(ctx, userCode, models.ActionConversationStart, map[string]interface{}{
		"conversation_id": conversationID,
		"prompt_id":       promptID,
	})
}

// LogConversationContinue 记录继续已有对话
func (a *AuditLogger) LogConversationContinue(ctx context.Context, userCode, conversationID string) bool {
	return a.Log(ctx, userCode, models.ActionConversationContinue, map[string]interface{}{
		"conversation_id": conversationID,
	})
}

// LogPromptSelection 记录选择提示词
func (a *AuditLogger) LogPromptSelection(ctx context.Context, userCode, promptID string) bool {
	return a.Log(ctx, userCode, models.ActionPromptSelection, map[string]interface{}{
		"prompt_id": promptID,
	})
}

// LogPageVisit 记录页面访问
func (a *AuditLogger) LogPageVisit(ctx context.Context, userCode, pageName string) bool {
	return a.Log(ctx, userCode, models.ActionPageVisit, map[string]interface{}{
		"page_name": pageName,
	})
}

// LogError 记录带类型标签和上下文的错误
func (a *AuditLogger) LogError(ctx context.Context, userCode, errorType, message string, errCtx map[string]interface{}) bool {
	if errCtx == nil {
		errCtx = map[string]interface{}{}
	}
	return a.Log(ctx, userCode, models.ActionError, map[string]interface{}{
		"error_type":    errorType,
		"error_message": message,
		"context":       errCtx,
	})
}
