package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// ConversationService 对话引擎
type ConversationService struct {
	conversations repository.ConversationRepository
	prompts       repository.PromptRepository
	ids           *IDAllocator
	tokens        *TokenCounter
	audit         *AuditLogger
	metrics       *metrics.Collector
	logger        *zap.Logger
	now           func() time.Time
}

// NewConversationService 创建对话服务
func NewConversationService(
	conversations repository.ConversationRepository,
	prompts repository.PromptRepository,
	ids *IDAllocator,
	tokens *TokenCounter,
	audit *AuditLogger,
	m *metrics.Collector,
	logger *zap.Logger,
) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		conversations: conversations,
		prompts:       prompts,
		ids:           ids,
		tokens:        tokens,
		audit:         audit,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// BuildSystemMessage 提示词正文加上参考文档
func BuildSystemMessage(prompt *models.Prompt) string {
	var b strings.Builder
	b.WriteString(prompt.Content)
	if len(prompt.Documents) == 0 {
		return b.String()
	}
	b.WriteString("\n\n**Reference Documents:**\n")
	for i, doc := range prompt.Documents {
		fmt.Fprintf(&b, "\n--- Document %d: %s ---\n", i+1, doc.Filename)
		b.WriteString(doc.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// StartConversation 用用户自己的提示词开始新对话，返回全局对话编号
func (s *ConversationService) StartConversation(ctx context.Context, userCode, promptID string) (string, error) {
	userCode = NormalizeCode(userCode)
	if err := validate.Struct(codeInput{Code: userCode}); err != nil {
		return "", validationError(err)
	}
	if promptID == "" {
		return "", apperrors.NewInvalidInputError("prompt_id", "is required")
	}

	prompt, err := s.prompts.Find(ctx, userCode, promptID)
	if err != nil {
		return "", storeError("prompt", "find prompt", err)
	}

	now := s.now().UTC()
	content := BuildSystemMessage(prompt)
	system := models.Message{
		Role:       models.RoleSystem,
		Content:    content,
		Timestamp:  now,
		TokenCount: s.tokens.CountMessageTokens(models.RoleSystem, content),
	}
	messages := []models.Message{system}

	conversationID, err := s.ids.NextConversationID(ctx)
	if err != nil {
		return "", err
	}
	conv := &models.Conversation{
		ConversationID: conversationID,
		UserCode:       userCode,
		PromptID:       promptID,
		Messages:       messages,
		TokenStats:     s.tokens.ConversationStats(messages),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.conversations.Insert(ctx, conv); err != nil {
		s.logger.Error("Failed to insert conversation, id skipped",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return "", unavailable("insert conversation", err)
	}
	s.metrics.ObserveTurn(string(models.RoleSystem), system.TokenCount, true)

	s.audit.LogConversationStart(ctx, userCode, conversationID, promptID)
	s.audit.LogPromptSelection(ctx, userCode, promptID)
	s.logger.Info("Started conversation",
		zap.String("conversation_id", conversationID),
		zap.String("prompt_id", promptID),
		zap.String("user_code", userCode))
	return conversationID, nil
}

// AppendTurn 追加一条消息并重新计算整段对话的 token 统计。
// 必须提供 userCode，所有权在存储的查询条件中校验。
func (s *ConversationService) AppendTurn(ctx context.Context, conversationID, userCode string, role models.Role, content string) (models.TokenStats, error) {
	userCode = NormalizeCode(userCode)
	input := turnInput{ConversationID: conversationID, UserCode: userCode, Role: string(role), Content: content}
	if err := validate.Struct(input); err != nil {
		return models.TokenStats{}, validationError(err)
	}
	return s.appendMessages(ctx, conversationID, userCode, s.newMessage(role, content))
}

func (s *ConversationService) newMessage(role models.Role, content string) models.Message {
	return models.Message{
		Role:       role,
		Content:    content,
		Timestamp:  s.now().UTC(),
		TokenCount: s.tokens.CountMessageTokens(role, content),
	}
}

// appendMessages 一次写入全部消息，之后逐条记录指标和审计
func (s *ConversationService) appendMessages(ctx context.Context, conversationID, userCode string, msgs ...models.Message) (models.TokenStats, error) {
	conv, err := s.conversations.AppendMessages(ctx, userCode, conversationID, msgs, s.tokens.ConversationStats)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return models.TokenStats{}, apperrors.NewConflictError("conversation was modified concurrently").WithCause(err)
		}
		return models.TokenStats{}, storeError("conversation", "append message", err)
	}

	for _, msg := range msgs {
		s.metrics.ObserveTurn(string(msg.Role), msg.TokenCount, msg.Role.IsInput())
		s.audit.LogChatMessage(ctx, userCode, conv.PromptID, msg.Role, msg.Content, msg.TokenCount)
		s.logger.Debug("Appended turn",
			zap.String("conversation_id", conversationID),
			zap.String("role", string(msg.Role)),
			zap.Int("tokens", msg.TokenCount))
	}
	return conv.TokenStats, nil
}

// GetConversationSummary 只含第一条消息的预览
func (s *ConversationService) GetConversationSummary(ctx context.Context, conversationID, userCode string) (*models.ConversationSummary, error) {
	summary, err := s.conversations.FindSummary(ctx, NormalizeCode(userCode), conversationID)
	if err != nil {
		return nil, storeError("conversation", "find conversation summary", err)
	}
	return summary, nil
}

// GetConversationFull 完整消息
func (s *ConversationService) GetConversationFull(ctx context.Context, conversationID, userCode string) (*models.Conversation, error) {
	conv, err := s.conversations.Find(ctx, NormalizeCode(userCode), conversationID)
	if err != nil {
		return nil, storeError("conversation", "find conversation", err)
	}
	return conv, nil
}

// ListConversations 用户的对话列表，最近更新的在前
func (s *ConversationService) ListConversations(ctx context.Context, userCode string) ([]models.ConversationSummary, error) {
	summaries, err := s.conversations.ListSummaries(ctx, NormalizeCode(userCode))
	if err != nil {
		return nil, unavailable("list conversations", err)
	}
	return summaries, nil
}

// ContinueConversation 加载已有对话并记录继续事件
func (s *ConversationService) ContinueConversation(ctx context.Context, conversationID, userCode string) (*models.Conversation, error) {
	conv, err := s.GetConversationFull(ctx, conversationID, userCode)
	if err != nil {
		return nil, err
	}
	s.audit.LogConversationContinue(ctx, conv.UserCode, conversationID)
	return conv, nil
}

// EstimateRequestTokens 以当前全部消息估算下一次补全请求的 token 数，不含待发送的新消息
func (s *ConversationService) EstimateRequestTokens(conv *models.Conversation) int {
	est := s.tokens.EstimateAPITokens(conv.Messages)
	return est.TotalInputTokens + est.TotalOutputTokens
}

// CompletionMessages 按顺序转换为补全接口的消息
func CompletionMessages(conv *models.Conversation) []llm.Message {
	out := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// CompleteTurn 以已有消息加上待发送的用户消息请求回复，完整收到后把用户消息和助手消息一起写入。
// 出错或取消时对话不变，已收到的片段被丢弃。onFragment 可为 nil。
func (s *ConversationService) CompleteTurn(ctx context.Context, conversationID, userCode, userText string, client llm.Client, onFragment func(string)) (string, models.TokenStats, error) {
	userCode = NormalizeCode(userCode)
	input := turnInput{ConversationID: conversationID, UserCode: userCode, Role: string(models.RoleUser), Content: userText}
	if err := validate.Struct(input); err != nil {
		return "", models.TokenStats{}, validationError(err)
	}
	if client == nil {
		return "", models.TokenStats{}, apperrors.NewExternalError(apperrors.ErrCodeExternalService, "completion client is not configured", nil)
	}

	conv, err := s.GetConversationFull(ctx, conversationID, userCode)
	if err != nil {
		return "", models.TokenStats{}, err
	}

	pending := s.newMessage(models.RoleUser, userText)
	messages := append(CompletionMessages(conv), llm.Message{Role: string(pending.Role), Content: pending.Content})

	reply, err := s.stream(ctx, client, messages, onFragment)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("completion returned an empty reply")
	}
	if err != nil {
		s.metrics.ObserveStreamFailure()
		s.logger.Warn("Completion failed, turn discarded",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		// 调用方放弃时 ctx 已取消，审计仍需写入
		s.audit.LogError(context.WithoutCancel(ctx), userCode, "openai_error", err.Error(), map[string]interface{}{
			"prompt_id":       conv.PromptID,
			"conversation_id": conversationID,
		})
		return "", models.TokenStats{}, apperrors.NewExternalError(apperrors.ErrCodeExternalService, "completion failed", err)
	}

	stats, err := s.appendMessages(ctx, conversationID, userCode, pending, s.newMessage(models.RoleAssistant, reply))
	if err != nil {
		return "", models.TokenStats{}, err
	}
	return reply, stats, nil
}

func (s *ConversationService) stream(ctx context.Context, client llm.Client, messages []llm.Message, onFragment func(string)) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := client.StreamChat(ctx, messages)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, ch, onFragment)
}

// RecomputeAllTokenStats 重新计算每个对话的消息 token 数与统计，只写入有差异的对话，可重复执行
func (s *ConversationService) RecomputeAllTokenStats(ctx context.Context) (int, error) {
	conversations, err := s.conversations.ListAll(ctx, true)
	if err != nil {
		return 0, unavailable("list conversations", err)
	}

	updated := 0
	for i := range conversations {
		conv := &conversations[i]
		counts := s.tokens.CountConversationTokens(conv.Messages)
		stats := counts.Stats()

		changed := stats != conv.TokenStats
		messages := make([]models.Message, len(conv.Messages))
		copy(messages, conv.Messages)
		for j := range messages {
			if messages[j].TokenCount != counts.PerMessage[j] {
				messages[j].TokenCount = counts.PerMessage[j]
				changed = true
			}
		}
		if !changed {
			continue
		}

		err := s.conversations.ReplaceTokenStats(ctx, conv.Ref, messages, stats)
		switch {
		case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrNotFound):
			// 期间有新消息追加，追加时已重新计算
			s.logger.Debug("Skipped conversation changed during recompute", zap.String("conversation_id", conv.ConversationID))
			continue
		case err != nil:
			return updated, unavailable("replace token stats", err)
		}
		updated++
	}
	s.logger.Info("Recomputed conversation token stats",
		zap.Int("updated", updated),
		zap.Int("scanned", len(conversations)))
	return updated, nil
}
