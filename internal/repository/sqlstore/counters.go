package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// incrementSQL 单条语句完成插入或自增并返回新值，PostgreSQL 与 SQLite 3.35+ 均支持
const incrementSQL = `INSERT INTO counters (id, sequence) VALUES (?, 1) ` +
	`ON CONFLICT (id) DO UPDATE SET sequence = counters.sequence + 1 RETURNING sequence`

type counterRepo struct {
	db *gorm.DB
}

func (r counterRepo) Increment(ctx context.Context, key models.CounterKey) (int64, error) {
	var sequence int64
	if err := r.db.WithContext(ctx).Raw(incrementSQL, key.DocumentID()).Scan(&sequence).Error; err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return sequence, nil
}

func (r counterRepo) Set(ctx context.Context, key models.CounterKey, value int64) error {
	row := counterRow{ID: key.DocumentID(), Sequence: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sequence"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}

func (r counterRepo) Get(ctx context.Context, key models.CounterKey) (int64, error) {
	var row counterRow
	err := r.db.WithContext(ctx).Where("id = ?", key.DocumentID()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return row.Sequence, nil
}
