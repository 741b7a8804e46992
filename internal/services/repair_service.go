package services

import (
	"context"
	"sort"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// RepairService 编号去重与计数器重置
type RepairService struct {
	prompts       repository.PromptRepository
	conversations repository.ConversationRepository
	counters      repository.CounterRepository
	ids           *IDAllocator
	logger        *zap.Logger
}

// NewRepairService 创建修复服务
func NewRepairService(store repository.Store, ids *IDAllocator, logger *zap.Logger) *RepairService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepairService{
		prompts:       store.Prompts(),
		conversations: store.Conversations(),
		counters:      store.Counters(),
		ids:           ids,
		logger:        logger,
	}
}

// RepairReport 一次修复的结果
type RepairReport struct {
	Conversations           int
	ConversationDupes       int
	ConversationsRenumbered int
	Prompts                 int
	PromptDupes             int
	PromptsRenumbered       int
	// CountersSet 计数器键到写入值
	CountersSet map[string]int64
}

// Writes 本次修复写入的记录数
func (r RepairReport) Writes() int {
	return r.ConversationsRenumbered + r.PromptsRenumbered
}

// VerificationReport 重复编号检查结果
type VerificationReport struct {
	DuplicateConversationIDs []string
	// DuplicatePromptIDs 用户码到重复编号
	DuplicatePromptIDs map[string][]string
}

// Clean 没有任何重复编号
func (v VerificationReport) Clean() bool {
	return len(v.DuplicateConversationIDs) == 0 && len(v.DuplicatePromptIDs) == 0
}

func countDuplicates(ids []string) int {
	seen := make(map[string]int, len(ids))
	dupes := 0
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			dupes++
		}
	}
	return dupes
}

func duplicated(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var out []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RepairDuplicateIDs 按创建时间顺序重新编号：对话全局编号，提示词按用户编号。
// 只有编号不一致时才写入，之后把计数器设为记录数。可重复执行。
func (s *RepairService) RepairDuplicateIDs(ctx context.Context) (RepairReport, error) {
	report := RepairReport{CountersSet: make(map[string]int64)}

	conversations, err := s.conversations.ListAll(ctx, false)
	if err != nil {
		return report, unavailable("list conversations", err)
	}
	report.Conversations = len(conversations)
	convIDs := make([]string, 0, len(conversations))
	for _, c := range conversations {
		convIDs = append(convIDs, c.ConversationID)
	}
	report.ConversationDupes = countDuplicates(convIDs)

	for i, c := range conversations {
		canonical := s.ids.Format(ConversationPrefix, int64(i+1))
		if c.ConversationID == canonical {
			continue
		}
		if err := s.conversations.UpdateConversationID(ctx, c.Ref, canonical); err != nil {
			return report, unavailable("update conversation id", err)
		}
		s.logger.Info("Renumbered conversation",
			zap.String("from", c.ConversationID),
			zap.String("to", canonical))
		report.ConversationsRenumbered++
	}
	convKey := models.ConversationCounter()
	if err := s.counters.Set(ctx, convKey, int64(len(conversations))); err != nil {
		return report, unavailable("set conversation counter", err)
	}
	report.CountersSet[convKey.DocumentID()] = int64(len(conversations))

	prompts, err := s.prompts.ListAll(ctx)
	if err != nil {
		return report, unavailable("list prompts", err)
	}
	report.Prompts = len(prompts)

	byUser := make(map[string][]models.Prompt)
	var users []string
	for _, p := range prompts {
		if _, ok := byUser[p.UserCode]; !ok {
			users = append(users, p.UserCode)
		}
		byUser[p.UserCode] = append(byUser[p.UserCode], p)
	}
	sort.Strings(users)

	for _, user := range users {
		owned := byUser[user]
		ids := make([]string, 0, len(owned))
		for _, p := range owned {
			ids = append(ids, p.PromptID)
		}
		report.PromptDupes += countDuplicates(ids)

		for i, p := range owned {
			canonical := s.ids.Format(PromptPrefix, int64(i+1))
			if p.PromptID == canonical {
				continue
			}
			if err := s.prompts.UpdatePromptID(ctx, p.Ref, canonical); err != nil {
				return report, unavailable("update prompt id", err)
			}
			s.logger.Info("Renumbered prompt",
				zap.String("user_code", user),
				zap.String("from", p.PromptID),
				zap.String("to", canonical))
			report.PromptsRenumbered++
		}
		key := models.PromptCounter(user)
		if err := s.counters.Set(ctx, key, int64(len(owned))); err != nil {
			return report, unavailable("set prompt counter", err)
		}
		report.CountersSet[key.DocumentID()] = int64(len(owned))
	}

	s.logger.Info("Repaired duplicate ids",
		zap.Int("conversations_renumbered", report.ConversationsRenumbered),
		zap.Int("prompts_renumbered", report.PromptsRenumbered),
		zap.Int("counters_set", len(report.CountersSet)))
	return report, nil
}

// VerifyUniqueIDs 检查对话编号全局唯一、提示词编号在用户内唯一
func (s *RepairService) VerifyUniqueIDs(ctx context.Context) (VerificationReport, error) {
	report := VerificationReport{DuplicatePromptIDs: make(map[string][]string)}

	conversations, err := s.conversations.ListAll(ctx, false)
	if err != nil {
		return report, unavailable("list conversations", err)
	}
	convIDs := make([]string, 0, len(conversations))
	for _, c := range conversations {
		convIDs = append(convIDs, c.ConversationID)
	}
	report.DuplicateConversationIDs = duplicated(convIDs)

	prompts, err := s.prompts.ListAll(ctx)
	if err != nil {
		return report, unavailable("list prompts", err)
	}
	byUser := make(map[string][]string)
	for _, p := range prompts {
		byUser[p.UserCode] = append(byUser[p.UserCode], p.PromptID)
	}
	for user, ids := range byUser {
		if d := duplicated(ids); len(d) > 0 {
			report.DuplicatePromptIDs[user] = d
		}
	}
	return report, nil
}
