package sqlstore

import (
	"context"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"gorm.io/gorm"
)

type promptRepo struct {
	db *gorm.DB
}

const oldestFirst = "created_at ASC, id ASC"

func (r promptRepo) Insert(ctx context.Context, prompt *models.Prompt) error {
	row := newPromptRow(prompt)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	prompt.Ref = formatRef(row.ID)
	return nil
}

func (r promptRepo) take(ctx context.Context, query string, args ...interface{}) (*models.Prompt, error) {
	var row promptRow
	err := r.db.WithContext(ctx).Where(query, args...).Order(oldestFirst).Take(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	p := row.model()
	return &p, nil
}

func (r promptRepo) Find(ctx context.Context, owner, promptID string) (*models.Prompt, error) {
	return r.take(ctx, "user_code = ? AND prompt_id = ?", owner, promptID)
}

func (r promptRepo) FindAnyOwner(ctx context.Context, promptID string) (*models.Prompt, error) {
	return r.take(ctx, "prompt_id = ?", promptID)
}

// list withContent 为 false 时不读取 documents 列，文档信息取自 document_meta
func (r promptRepo) list(ctx context.Context, tx *gorm.DB, order string, withContent bool) ([]models.Prompt, error) {
	if !withContent {
		tx = tx.Omit("documents")
	}
	var rows []promptRow
	if err := tx.Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find prompts: %w", err)
	}

	var legacy map[uint64]documentList
	if !withContent {
		var err error
		if legacy, err = r.legacyDocuments(ctx, rows); err != nil {
			return nil, err
		}
	}

	out := make([]models.Prompt, 0, len(rows))
	for _, row := range rows {
		p := row.model()
		if !withContent {
			if row.DocumentMeta != nil {
				p.Documents = row.DocumentMeta.documents()
			} else {
				p.Documents = newDocumentMetaList(legacy[row.ID]).documents()
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// legacyDocuments 为没有 document_meta 的旧记录单独读取文档
func (r promptRepo) legacyDocuments(ctx context.Context, rows []promptRow) (map[uint64]documentList, error) {
	var ids []uint64
	for _, row := range rows {
		if row.DocumentMeta == nil {
			ids = append(ids, row.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var full []promptRow
	if err := r.db.WithContext(ctx).Select("id", "documents").Where("id IN ?", ids).Find(&full).Error; err != nil {
		return nil, fmt.Errorf("find prompt documents: %w", err)
	}
	out := make(map[uint64]documentList, len(full))
	for _, row := range full {
		out[row.ID] = row.Documents
	}
	return out, nil
}

func (r promptRepo) ListByUser(ctx context.Context, owner string, withContent bool) ([]models.Prompt, error) {
	tx := r.db.WithContext(ctx).Where("user_code = ?", owner)
	return r.list(ctx, tx, "created_at DESC, id DESC", withContent)
}

func (r promptRepo) ListAll(ctx context.Context) ([]models.Prompt, error) {
	return r.list(ctx, r.db.WithContext(ctx), oldestFirst, false)
}

func (r promptRepo) update(ctx context.Context, ref string, values map[string]interface{}) error {
	id, err := parseRef(ref)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&promptRow{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update prompt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r promptRepo) UpdatePromptID(ctx context.Context, ref, promptID string) error {
	return r.update(ctx, ref, map[string]interface{}{"prompt_id": promptID})
}

func (r promptRepo) ListNeedingTokenBackfill(ctx context.Context) ([]models.Prompt, error) {
	tx := r.db.WithContext(ctx).Where(
		"prompt_token_count IS NULL OR document_token_count IS NULL OR total_token_count IS NULL OR token_count IS NOT NULL",
	)
	return r.list(ctx, tx, oldestFirst, true)
}

func (r promptRepo) SetTokenCounts(ctx context.Context, ref string, promptTokens, documentTokens, totalTokens int) error {
	return r.update(ctx, ref, map[string]interface{}{
		"prompt_token_count":   promptTokens,
		"document_token_count": documentTokens,
		"total_token_count":    totalTokens,
		"token_count":          nil,
	})
}

func (r promptRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&promptRow{}).Count(&n).Error
	return n, err
}

func (r promptRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&promptRow{}).Where("user_code = ?", owner).Count(&n).Error
	return n, err
}
