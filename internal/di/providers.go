package di

import (
	"context"
	"fmt"
	"os"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/database"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/extractor"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/kafka"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	applog "github.com/bronsonhill/prompting-task-ISLM10002/internal/logger"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config, logger *zap.Logger) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	logger = applog.OrDefault(logger)

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger },
		func(cfg *config.Config) *metrics.Collector {
			return metrics.NewCollector(cfg.Metrics.Namespace)
		},

		// 存储
		newStore,
		func(store repository.Store) repository.UserRepository { return store.Users() },
		func(store repository.Store) repository.PromptRepository { return store.Prompts() },
		func(store repository.Store) repository.ConversationRepository { return store.Conversations() },
		func(store repository.Store) repository.AdminCodeRepository { return store.AdminCodes() },
		func(store repository.Store) repository.LogRepository { return store.Logs() },
		func(store repository.Store) repository.CounterRepository { return store.Counters() },
		newHealthChecker,

		// 审计
		newAuditMirror,
		services.NewAuditLogger,

		// 业务服务
		func(cfg *config.Config) *services.CodeGenerator {
			return services.NewCodeGenerator(cfg.IDs.CodeLength)
		},
		func(cfg *config.Config, counters repository.CounterRepository, m *metrics.Collector, logger *zap.Logger) *services.IDAllocator {
			return services.NewIDAllocator(counters, cfg.IDs.PadWidth, m, logger)
		},
		services.NewTokenCounter,
		extractor.New,
		services.NewAdminService,
		services.NewUserService,
		services.NewPromptService,
		services.NewConversationService,
		services.NewRepairService,
		services.NewStatsService,

		// 补全接口，仅在对话时解析
		newLLMClient,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("register provider: %w", err)
		}
	}
	return nil
}

func newStore(cfg *config.Config, logger *zap.Logger, m *metrics.Collector) (repository.Store, error) {
	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = m.Registry()
	}
	return database.OpenStore(context.Background(), cfg, logger, reg)
}

// newAuditMirror Kafka 未启用时返回 nil，审计只写存储
func newAuditMirror(cfg *config.Config, logger *zap.Logger) (services.AuditMirror, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := kafka.NewAuditProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	if err != nil {
		return nil, err
	}
	return producer, nil
}

func newHealthChecker(cfg *config.Config, store repository.Store) *database.HealthChecker {
	logrusLogger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: &logrus.JSONFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	return database.NewHealthChecker(store, cfg.Store.Driver, logrusLogger)
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	client, err := llm.NewOpenAIClient(llm.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Model:        cfg.OpenAI.Model,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		StreamBuffer: cfg.OpenAI.StreamBuffer,
		Timeout:      cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return llm.NewBreakerClient(client, cfg.OpenAI.BreakerThreshold, cfg.OpenAI.BreakerCooldown), nil
}
