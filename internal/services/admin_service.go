package services

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

// AdminService 管理员码的生命周期与权限查询
type AdminService struct {
	codes     repository.AdminCodeRepository
	generator *CodeGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdminService 创建管理员服务
func NewAdminService(codes repository.AdminCodeRepository, generator *CodeGenerator, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if generator == nil {
		generator = NewCodeGenerator(CodeLength)
	}
	return &AdminService{codes: codes, generator: generator, logger: logger, now: time.Now}
}

// AdminSummary 管理员码统计
type AdminSummary struct {
	Total       int
	Active      int
	Inactive    int
	SuperAdmins int
	Admins      int
}

// AdminLevel 返回有效码的级别，无效或不存在时为 none
func (s *AdminService) AdminLevel(ctx context.Context, code string) (models.AdminLevel, error) {
	admin, err := s.codes.FindActive(ctx, NormalizeCode(code))
	if errors.Is(err, repository.ErrNotFound) {
		return models.AdminLevelNone, nil
	}
	if err != nil {
		return models.AdminLevelNone, unavailable("find admin code", err)
	}
	return admin.Level, nil
}

// IsAdmin 是否为有效管理员码（任意级别）
func (s *AdminService) IsAdmin(ctx context.Context, code string) (bool, error) {
	level, err := s.AdminLevel(ctx, code)
	if err != nil {
		return false, err
	}
	return level != models.AdminLevelNone, nil
}

// IsSuperAdmin 是否为有效的 super_admin
func (s *AdminService) IsSuperAdmin(ctx context.Context, code string) (bool, error) {
	level, err := s.AdminLevel(ctx, code)
	if err != nil {
		return false, err
	}
	return level == models.AdminLevelSuper, nil
}

// AddAdminCode 添加管理员码；已停用的码会被重新启用
func (s *AdminService) AddAdminCode(ctx context.Context, code, level, addedBy string) error {
	code = NormalizeCode(code)
	if err := validate.Struct(adminCodeInput{Code: code, Level: level}); err != nil {
		return validationError(err)
	}
	lvl, _ := models.ParseAdminLevel(level)
	if addedBy == "" {
		addedBy = "system"
	}

	existing, err := s.codes.Find(ctx, code)
	switch {
	case err == nil && existing.Active():
		return apperrors.NewConflictError("code is already an active admin code")
	case err == nil:
		if err := s.codes.Reactivate(ctx, code, lvl, addedBy, s.now().UTC()); err != nil {
			return storeError("admin code", "reactivate admin code", err)
		}
	case errors.Is(err, repository.ErrNotFound):
		admin := &models.AdminCode{
			Code:      code,
			Level:     lvl,
			AddedBy:   addedBy,
			CreatedAt: s.now().UTC(),
			Status:    models.AdminActive,
		}
		if err := s.codes.Insert(ctx, admin); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.NewConflictError("code is already an active admin code")
			}
			return unavailable("insert admin code", err)
		}
	default:
		return unavailable("find admin code", err)
	}

	s.logger.Info("Added admin code",
		zap.String("code", code),
		zap.String("level", string(lvl)),
		zap.String("added_by", addedBy))
	return nil
}

// RemoveAdminCode 软删除；super_admin 不能通过此路径删除
func (s *AdminService) RemoveAdminCode(ctx context.Context, code, removedBy string) error {
	code = NormalizeCode(code)
	if err := validate.Struct(codeInput{Code: code}); err != nil {
		return validationError(err)
	}
	if removedBy == "" {
		removedBy = "system"
	}

	admin, err := s.codes.FindActive(ctx, code)
	if err != nil {
		return storeError("admin code", "find admin code", err)
	}
	if admin.Level == models.AdminLevelSuper {
		return apperrors.NewPolicyError("super_admin codes cannot be removed")
	}

	modified, err := s.codes.Deactivate(ctx, code, removedBy, s.now().UTC())
	if err != nil {
		return unavailable("deactivate admin code", err)
	}
	if !modified {
		// 并发情况下码已被停用或被提升为 super_admin
		return apperrors.NewNotFoundError("admin code")
	}
	s.logger.Info("Removed admin code", zap.String("code", code), zap.String("removed_by", removedBy))
	return nil
}

// ListAdminCodes 按创建时间倒序
func (s *AdminService) ListAdminCodes(ctx context.Context, includeInactive bool) ([]models.AdminCode, error) {
	codes, err := s.codes.List(ctx, includeInactive)
	if err != nil {
		return nil, unavailable("list admin codes", err)
	}
	return codes, nil
}

// Summarize 统计管理员码
func Summarize(codes []models.AdminCode) AdminSummary {
	var sum AdminSummary
	for _, c := range codes {
		sum.Total++
		if !c.Active() {
			sum.Inactive++
			continue
		}
		sum.Active++
		switch c.Level {
		case models.AdminLevelSuper:
			sum.SuperAdmins++
		case models.AdminLevelAdmin:
			sum.Admins++
		}
	}
	return sum
}

func (s *AdminService) adminCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.codes.Find(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BootstrapInitialAdmin 仅在没有任何有效管理员码时生成一个 super_admin 码。
// 已有管理员码时返回空字符串。
func (s *AdminService) BootstrapInitialAdmin(ctx context.Context) (string, error) {
	n, err := s.codes.CountActive(ctx)
	if err != nil {
		return "", unavailable("count admin codes", err)
	}
	if n > 0 {
		s.logger.Info("Admin codes already exist, skipping bootstrap", zap.Int64("active", n))
		return "", nil
	}

	code, err := s.generator.Generate(ctx, s.adminCodeExists)
	if err != nil {
		return "", unavailable("generate admin code", err)
	}
	admin := &models.AdminCode{
		Code:      code,
		Level:     models.AdminLevelSuper,
		AddedBy:   "system",
		CreatedAt: s.now().UTC(),
		Status:    models.AdminActive,
	}
	if err := s.codes.Insert(ctx, admin); err != nil {
		return "", unavailable("insert admin code", err)
	}
	s.logger.Info("Created initial super_admin code")
	return code, nil
}
