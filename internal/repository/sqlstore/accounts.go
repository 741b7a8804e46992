package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// users

type userRepo struct {
	db *gorm.DB
}

func (r userRepo) Get(ctx context.Context, code string) (*models.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	u := row.model()
	return &u, nil
}

func (r userRepo) Create(ctx context.Context, user *models.User) error {
	row := userRow{
		Code:           user.Code,
		DataUseConsent: user.DataUseConsent.Bool(),
		CreatedAt:      user.CreatedAt,
		LastLogin:      user.LastLogin,
	}
	err := r.db.WithContext(ctx).Create(&row).Error
	if isDuplicate(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r userRepo) update(ctx context.Context, code string, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&userRow{}).Where("code = ?", code).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r userRepo) UpdateLastLogin(ctx context.Context, code string, at time.Time) error {
	return r.update(ctx, code, map[string]interface{}{"last_login": at})
}

func (r userRepo) SetConsent(ctx context.Context, code string, consent models.Consent) error {
	return r.update(ctx, code, map[string]interface{}{"data_use_consent": consent.Bool()})
}

func (r userRepo) List(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	out := make([]models.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// admin codes

type adminRepo struct {
	db *gorm.DB
}

func (r adminRepo) take(ctx context.Context, query string, args ...interface{}) (*models.AdminCode, error) {
	var row adminCodeRow
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	a := row.model()
	return &a, nil
}

func (r adminRepo) Find(ctx context.Context, code string) (*models.AdminCode, error) {
	return r.take(ctx, "code = ?", code)
}

func (r adminRepo) FindActive(ctx context.Context, code string) (*models.AdminCode, error) {
	return r.take(ctx, "code = ? AND is_active = ?", code, true)
}

func (r adminRepo) Insert(ctx context.Context, admin *models.AdminCode) error {
	row := adminCodeRow{
		Code:      admin.Code,
		Level:     string(admin.Level),
		AddedBy:   admin.AddedBy,
		CreatedAt: admin.CreatedAt,
		IsActive:  admin.Active(),
	}
	err := r.db.WithContext(ctx).Create(&row).Error
	if isDuplicate(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert admin code: %w", err)
	}
	return nil
}

func (r adminRepo) Reactivate(ctx context.Context, code string, level models.AdminLevel, addedBy string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&adminCodeRow{}).
		Where("code = ? AND is_active = ?", code, false).
		Updates(map[string]interface{}{
			"level":      string(level),
			"added_by":   addedBy,
			"created_at": at,
			"is_active":  true,
			"removed_by": "",
			"removed_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("reactivate admin code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r adminRepo) Deactivate(ctx context.Context, code, removedBy string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&adminCodeRow{}).
		Where("code = ? AND is_active = ? AND level <> ?", code, true, string(models.AdminLevelSuper)).
		Updates(map[string]interface{}{
			"is_active":  false,
			"removed_by": removedBy,
			"removed_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("deactivate admin code: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r adminRepo) List(ctx context.Context, includeInactive bool) ([]models.AdminCode, error) {
	tx := r.db.WithContext(ctx).Order("created_at DESC")
	if !includeInactive {
		tx = tx.Where("is_active = ?", true)
	}
	var rows []adminCodeRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find admin codes: %w", err)
	}
	out := make([]models.AdminCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r adminRepo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&adminCodeRow{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}

// logs

type logRepo struct {
	db *gorm.DB
}

func (r logRepo) Append(ctx context.Context, entry *models.LogEntry) error {
	row := logRow{
		ID:        uuid.NewString(),
		UserCode:  entry.UserCode,
		Action:    entry.Action,
		Data:      jsonMap(entry.Data),
		Timestamp: entry.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (r logRepo) ListByUser(ctx context.Context, userCode string, limit int) ([]models.LogEntry, error) {
	tx := r.db.WithContext(ctx).Where("user_code = ?", userCode).Order("logged_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []logRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find logs: %w", err)
	}
	out := make([]models.LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.LogEntry{
			UserCode:  row.UserCode,
			Action:    row.Action,
			Data:      map[string]interface{}(row.Data),
			Timestamp: row.Timestamp,
		})
	}
	return out, nil
}
