package sqlstore

import (
	"context"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"gorm.io/gorm"
)

type conversationRepo struct {
	db *gorm.DB
}

// summaryColumns 摘要不读取消息列
var summaryColumns = []string{"id", "conversation_id", "user_code", "prompt_id", "first_message", "created_at", "updated_at"}

func (r conversationRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	row := newConversationRow(conv)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	conv.Ref = formatRef(row.ID)
	return nil
}

func (r conversationRepo) take(ctx context.Context, owner, conversationID string, columns []string) (*conversationRow, error) {
	tx := r.db.WithContext(ctx).Where("user_code = ? AND conversation_id = ?", owner, conversationID)
	if columns != nil {
		tx = tx.Select(columns)
	}
	var row conversationRow
	if err := tx.Order(oldestFirst).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (r conversationRepo) Find(ctx context.Context, owner, conversationID string) (*models.Conversation, error) {
	row, err := r.take(ctx, owner, conversationID, nil)
	if err != nil {
		return nil, err
	}
	conv := row.model()
	return &conv, nil
}

func (r conversationRepo) FindSummary(ctx context.Context, owner, conversationID string) (*models.ConversationSummary, error) {
	row, err := r.take(ctx, owner, conversationID, summaryColumns)
	if err != nil {
		return nil, err
	}
	sum := row.summary()
	return &sum, nil
}

func (r conversationRepo) ListSummaries(ctx context.Context, owner string) ([]models.ConversationSummary, error) {
	var rows []conversationRow
	err := r.db.WithContext(ctx).
		Select(summaryColumns).
		Where("user_code = ?", owner).
		Order("updated_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	out := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.summary())
	}
	return out, nil
}

// AppendMessages 以 version 列做比较并交换，冲突时重新读取后重试
func (r conversationRepo) AppendMessages(ctx context.Context, owner, conversationID string, msgs []models.Message, stats repository.StatsFunc) (*models.Conversation, error) {
	if len(msgs) == 0 {
		return nil, repository.ErrNoMessages
	}
	for attempt := 0; attempt < repository.MaxAppendAttempts; attempt++ {
		row, err := r.take(ctx, owner, conversationID, nil)
		if err != nil {
			return nil, err
		}
		conv := row.model()
		conv.Messages = append(conv.Messages, msgs...)
		conv.TokenStats = stats(conv.Messages)
		conv.UpdatedAt = msgs[len(msgs)-1].Timestamp

		res := r.db.WithContext(ctx).Model(&conversationRow{}).
			Where("id = ? AND version = ?", row.ID, row.Version).
			Updates(map[string]interface{}{
				"messages":            messageList(conv.Messages),
				"message_count":       len(conv.Messages),
				"total_input_tokens":  conv.TokenStats.TotalInputTokens,
				"total_output_tokens": conv.TokenStats.TotalOutputTokens,
				"updated_at":          conv.UpdatedAt,
				"version":             gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("append messages: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return &conv, nil
		}
	}
	return nil, repository.ErrConflict
}

func (r conversationRepo) ListAll(ctx context.Context, withMessages bool) ([]models.Conversation, error) {
	tx := r.db.WithContext(ctx).Order(oldestFirst)
	if !withMessages {
		tx = tx.Omit("messages", "first_message")
	}
	var rows []conversationRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	out := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conv := row.model()
		if !withMessages {
			conv.Messages = nil
		}
		out = append(out, conv)
	}
	return out, nil
}

func (r conversationRepo) UpdateConversationID(ctx context.Context, ref, conversationID string) error {
	id, err := parseRef(ref)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Update("conversation_id", conversationID)
	if res.Error != nil {
		return fmt.Errorf("update conversation id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r conversationRepo) ReplaceTokenStats(ctx context.Context, ref string, messages []models.Message, stats models.TokenStats) error {
	id, err := parseRef(ref)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ? AND message_count = ?", id, len(messages)).
		Updates(map[string]interface{}{
			"messages":            messageList(messages),
			"total_input_tokens":  stats.TotalInputTokens,
			"total_output_tokens": stats.TotalOutputTokens,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("replace token stats: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("replace token stats: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func (r conversationRepo) Totals(ctx context.Context) (models.ConversationTotals, error) {
	var row struct {
		TotalConversations int64
		TotalMessages      int64
		TotalInput         int64
		TotalOutput        int64
	}
	err := r.db.WithContext(ctx).Model(&conversationRow{}).Select(
		"COUNT(*) AS total_conversations, " +
			"COALESCE(SUM(message_count), 0) AS total_messages, " +
			"COALESCE(SUM(total_input_tokens), 0) AS total_input, " +
			"COALESCE(SUM(total_output_tokens), 0) AS total_output",
	).Scan(&row).Error
	if err != nil {
		return models.ConversationTotals{}, fmt.Errorf("aggregate conversations: %w", err)
	}
	return models.ConversationTotals{
		Conversations:     row.TotalConversations,
		Messages:          row.TotalMessages,
		TotalInputTokens:  row.TotalInput,
		TotalOutputTokens: row.TotalOutput,
	}, nil
}

func (r conversationRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&conversationRow{}).Where("user_code = ?", owner).Count(&n).Error
	return n, err
}
