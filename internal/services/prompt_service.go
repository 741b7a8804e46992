package services

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/extractor"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// PromptService 提示词注册表
type PromptService struct {
	prompts   repository.PromptRepository
	ids       *IDAllocator
	tokens    *TokenCounter
	extractor *extractor.Extractor
	audit     *AuditLogger
	logger    *zap.Logger
	now       func() time.Time
}

// NewPromptService 创建提示词服务
func NewPromptService(prompts repository.PromptRepository, ids *IDAllocator, tokens *TokenCounter, ex *extractor.Extractor, audit *AuditLogger, logger *zap.Logger) *PromptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ex == nil {
		ex = extractor.New()
	}
	return &PromptService{
		prompts:   prompts,
		ids:       ids,
		tokens:    tokens,
		extractor: ex,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// PromptTokenCounts 提示词的三项 token 数
type PromptTokenCounts struct {
	Prompt   int
	Document int
	Total    int
}

// CountPromptTokens 正文与全部文档正文分别计数
func (s *PromptService) CountPromptTokens(content string, docs []models.Document) PromptTokenCounts {
	counts := PromptTokenCounts{Prompt: s.tokens.CountTokens(content)}
	for _, d := range docs {
		counts.Document += s.tokens.CountTokens(d.Content)
	}
	counts.Total = counts.Prompt + counts.Document
	return counts
}

// CreatePrompt 校验后分配用户内编号并写入。写入失败时编号作废，不会复用。
func (s *PromptService) CreatePrompt(ctx context.Context, userCode, content string, docs []models.Document) (string, error) {
	userCode = NormalizeCode(userCode)
	if err := validate.Struct(promptInput{UserCode: userCode, Content: content}); err != nil {
		return "", validationError(err)
	}

	counts := s.CountPromptTokens(content, docs)
	promptID, err := s.ids.NextPromptID(ctx, userCode)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	prompt := &models.Prompt{
		PromptID:           promptID,
		UserCode:           userCode,
		Content:            content,
		Documents:          docs,
		PromptTokenCount:   counts.Prompt,
		DocumentTokenCount: counts.Document,
		TotalTokenCount:    counts.Total,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if prompt.Documents == nil {
		prompt.Documents = []models.Document{}
	}
	if err := s.prompts.Insert(ctx, prompt); err != nil {
		s.logger.Error("Failed to insert prompt, id skipped",
			zap.String("user_code", userCode),
			zap.String("prompt_id", promptID),
			zap.Error(err))
		return "", unavailable("insert prompt", err)
	}

	s.audit.LogPromptCreation(ctx, userCode, promptID, content)
	s.logger.Info("Created prompt",
		zap.String("user_code", userCode),
		zap.String("prompt_id", promptID),
		zap.Int("documents", len(docs)),
		zap.Int("total_tokens", counts.Total))
	return promptID, nil
}

// GetPrompt 按编号查询；userCode 非空时只返回该用户的提示词，为空时不限所有者（管理工具）
func (s *PromptService) GetPrompt(ctx context.Context, promptID, userCode string) (*models.Prompt, error) {
	if promptID == "" {
		return nil, apperrors.NewInvalidInputError("prompt_id", "is required")
	}
	var (
		prompt *models.Prompt
		err    error
	)
	if userCode == "" {
		prompt, err = s.prompts.FindAnyOwner(ctx, promptID)
	} else {
		prompt, err = s.prompts.Find(ctx, NormalizeCode(userCode), promptID)
	}
	if err != nil {
		return nil, storeError("prompt", "find prompt", err)
	}
	return prompt, nil
}

// ListPromptsLightweight 不含文档正文，最新的在前
func (s *PromptService) ListPromptsLightweight(ctx context.Context, userCode string) ([]models.PromptSummary, error) {
	prompts, err := s.prompts.ListByUser(ctx, NormalizeCode(userCode), false)
	if err != nil {
		return nil, unavailable("list prompts", err)
	}
	out := make([]models.PromptSummary, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, p.Summary())
	}
	return out, nil
}

// ListPromptsFull 含文档正文，最新的在前
func (s *PromptService) ListPromptsFull(ctx context.Context, userCode string) ([]models.Prompt, error) {
	prompts, err := s.prompts.ListByUser(ctx, NormalizeCode(userCode), true)
	if err != nil {
		return nil, unavailable("list prompts", err)
	}
	return prompts, nil
}

// BackfillTokenCounts 为缺少 token 字段或带旧字段的提示词重新计数，可重复执行
func (s *PromptService) BackfillTokenCounts(ctx context.Context) (int, error) {
	pending, err := s.prompts.ListNeedingTokenBackfill(ctx)
	if err != nil {
		return 0, unavailable("list prompts needing backfill", err)
	}

	updated := 0
	for _, p := range pending {
		counts := s.CountPromptTokens(p.Content, p.Documents)
		if err := s.prompts.SetTokenCounts(ctx, p.Ref, counts.Prompt, counts.Document, counts.Total); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return updated, unavailable("set token counts", err)
		}
		updated++
	}
	s.logger.Info("Backfilled prompt token counts",
		zap.Int("updated", updated),
		zap.String("tokenizer", TokenizerName))
	return updated, nil
}

// AttachDocument 提取上传文件的文本并生成文档
func (s *PromptService) AttachDocument(ctx context.Context, filename, fileType string, data []byte) (models.Document, error) {
	if filename == "" {
		return models.Document{}, apperrors.NewInvalidInputError("filename", "is required")
	}
	text, err := s.extractor.Extract(ctx, filename, fileType, data)
	switch {
	case errors.Is(err, extractor.ErrUnsupportedType):
		return models.Document{}, apperrors.NewInvalidInputError("file_type", err.Error())
	case extractor.IsCorrupt(err):
		return models.Document{}, apperrors.NewExternalError(apperrors.ErrCodeExtraction, "document could not be read", err)
	case err != nil:
		return models.Document{}, err
	}
	return models.Document{
		Filename:   filename,
		FileType:   extractor.NormalizeType(filename, fileType),
		FileSize:   int64(len(data)),
		UploadedAt: s.now().UTC(),
		Content:    text,
	}, nil
}
