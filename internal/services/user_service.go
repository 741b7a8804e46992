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

// UserService 访问码用户与数据授权
type UserService struct {
	users     repository.UserRepository
	admins    *AdminService
	audit     *AuditLogger
	generator *CodeGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService 创建用户服务；admins 可为 nil
func NewUserService(users repository.UserRepository, admins *AdminService, audit *AuditLogger, generator *CodeGenerator, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if generator == nil {
		generator = NewCodeGenerator(CodeLength)
	}
	return &UserService{
		users:     users,
		admins:    admins,
		audit:     audit,
		generator: generator,
		logger:    logger,
		now:       time.Now,
	}
}

// LoginResult 登录结果
type LoginResult struct {
	Authenticated bool
	// NeedsConsent 新用户或曾拒绝授权的用户需要重新选择
	NeedsConsent bool
	IsAdmin      bool
	User         *models.User
}

func (s *UserService) normalize(code string) (string, error) {
	code = NormalizeCode(code)
	if err := validate.Struct(codeInput{Code: code}); err != nil {
		return "", validationError(err)
	}
	return code, nil
}

// GetUserData 查询用户
func (s *UserService) GetUserData(ctx context.Context, code string) (*models.User, error) {
	code, err := s.normalize(code)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, code)
	if err != nil {
		return nil, storeError("user", "get user", err)
	}
	return user, nil
}

// IsFirstTimeUser 用户是否尚不存在
func (s *UserService) IsFirstTimeUser(ctx context.Context, code string) (bool, error) {
	_, err := s.GetUserData(ctx, code)
	if apperrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// CreateUser 首次登录时创建用户
func (s *UserService) CreateUser(ctx context.Context, code string, consent models.Consent) (*models.User, error) {
	code, err := s.normalize(code)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &models.User{
		Code:           code,
		DataUseConsent: consent,
		CreatedAt:      now,
		LastLogin:      now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflictError("user code already exists")
		}
		return nil, unavailable("create user", err)
	}
	s.audit.Log(ctx, code, models.ActionUserCreated, map[string]interface{}{
		"data_consent": consent.Bool(),
	})
	s.logger.Info("Created user", zap.String("user_code", code), zap.String("consent", consent.String()))
	return user, nil
}

// SetDataConsent 修改授权状态
func (s *UserService) SetDataConsent(ctx context.Context, code string, consent models.Consent) error {
	code, err := s.normalize(code)
	if err != nil {
		return err
	}
	if err := s.users.SetConsent(ctx, code, consent); err != nil {
		return storeError("user", "set consent", err)
	}
	s.audit.Log(ctx, code, models.ActionConsentUpdated, map[string]interface{}{
		"data_consent": consent.Bool(),
	})
	return nil
}

// HasConsentSet 用户是否已做出授权选择
func (s *UserService) HasConsentSet(ctx context.Context, code string) (bool, error) {
	user, err := s.GetUserData(ctx, code)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.DataUseConsent.Decided(), nil
}

// Login 校验访问码；新用户或拒绝授权的用户返回 NeedsConsent
func (s *UserService) Login(ctx context.Context, code string) (*LoginResult, error) {
	user, err := s.GetUserData(ctx, code)
	if apperrors.IsNotFound(err) {
		return &LoginResult{NeedsConsent: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if user.DataUseConsent == models.ConsentDeclined {
		return &LoginResult{NeedsConsent: true, User: user}, nil
	}

	previous := user.LastLogin
	user.LastLogin = s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.Code, user.LastLogin); err != nil {
		return nil, storeError("user", "update last login", err)
	}
	s.audit.Log(ctx, user.Code, models.ActionLogin, map[string]interface{}{
		"timestamp": previous,
	})

	result := &LoginResult{Authenticated: true, User: user}
	if s.admins != nil {
		isAdmin, err := s.admins.IsAdmin(ctx, user.Code)
		if err != nil {
			return nil, err
		}
		result.IsAdmin = isAdmin
	}
	return result, nil
}

// CompleteRegistration 记录授权选择后完成登录：新用户创建，老用户更新授权
func (s *UserService) CompleteRegistration(ctx context.Context, code string, consent models.Consent) (*LoginResult, error) {
	first, err := s.IsFirstTimeUser(ctx, code)
	if err != nil {
		return nil, err
	}
	if first {
		if _, err := s.CreateUser(ctx, code, consent); err != nil {
			return nil, err
		}
	} else if err := s.SetDataConsent(ctx, code, consent); err != nil {
		return nil, err
	}
	if consent == models.ConsentDeclined {
		return &LoginResult{NeedsConsent: true}, nil
	}
	return s.Login(ctx, code)
}

// Logout 记录登出
func (s *UserService) Logout(ctx context.Context, code string) {
	code = NormalizeCode(code)
	if code == "" {
		return
	}
	s.audit.Log(ctx, code, models.ActionLogout, nil)
}

// UserCodeExists 供唯一码生成使用
func (s *UserService) UserCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.users.Get(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("get user", err)
	}
	return true, nil
}

// GenerateUniqueUserCode 生成未被用户使用的访问码
func (s *UserService) GenerateUniqueUserCode(ctx context.Context) (string, error) {
	code, err := s.generator.Generate(ctx, s.UserCodeExists)
	if err != nil {
		return "", unavailable("generate user code", err)
	}
	return code, nil
}

// ListUsers 全部用户，按创建时间正序
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	return users, nil
}
