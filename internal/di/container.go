package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/database"
	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke，提供更友好的接口
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}

// Provide 封装dig.Provide，提供更友好的接口
func Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return Container.Provide(constructor, opts...)
}

// Build 创建全局容器并注册所有提供者
func Build(cfg *config.Config, logger *zap.Logger) (*dig.Container, error) {
	container := InitContainer()
	if err := RegisterProviders(container, cfg, logger); err != nil {
		return nil, err
	}
	return container, nil
}

// App 命令行工具共用的依赖集合
type App struct {
	dig.In

	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Store         repository.Store
	Mirror        services.AuditMirror `optional:"true"`
	Health        *database.HealthChecker
	Admins        *services.AdminService
	Users         *services.UserService
	Prompts       *services.PromptService
	Conversations *services.ConversationService
	Repair        *services.RepairService
	Stats         *services.StatsService
}

// Close 关闭审计镜像和存储
func (a App) Close(ctx context.Context) error {
	var errs []error
	if closer, ok := a.Mirror.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit mirror: %w", err))
		}
	}
	if err := a.Store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Run 构建容器，等待存储可用后以 App 调用 fn，结束后释放资源
func Run(cfg *config.Config, logger *zap.Logger, fn func(ctx context.Context, app App) error) error {
	container, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	return container.Invoke(func(app App) (err error) {
		defer func() {
			if cerr := app.Close(ctx); cerr != nil {
				app.Logger.Warn("Failed to release resources", zap.Error(cerr))
			}
		}()
		if err = app.Health.WaitForHealthy(ctx, app.Config.Store.Timeout, time.Second); err != nil {
			err = apperrors.NewStoreUnavailableError("connect to store", err)
		} else {
			err = fn(ctx, app)
		}
		if err != nil {
			apperrors.NewErrorLogger(app.Logger).LogError("command", err)
		}
		return err
	})
}
