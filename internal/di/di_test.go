package di

import (
	"context"
	"testing"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Name: "prompt-lab", Env: "test"},
		Store:   config.StoreConfig{Driver: "memory"},
		OpenAI:  config.OpenAIConfig{Model: "gpt-4o", MaxTokens: 100, StreamBuffer: 4},
		Metrics: config.MetricsConfig{Enabled: true, Namespace: "test"},
		IDs:     config.IDConfig{PadWidth: 3, CodeLength: 5},
	}
}

func TestDependencyInjectionContainer(t *testing.T) {
	container := InitContainer()
	assert.NotNil(t, container)
	assert.Same(t, container, GetContainer())
}

func TestContainerBasicOperations(t *testing.T) {
	InitContainer()

	type TestService struct {
		Name string
	}

	err := Provide(func() *TestService {
		return &TestService{Name: "test"}
	})
	require.NoError(t, err)

	err = Invoke(func(svc *TestService) {
		assert.Equal(t, "test", svc.Name)
	})
	assert.NoError(t, err)
}

func TestRegisterProvidersRequiresConfig(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)
}

func TestRunWiresServices(t *testing.T) {
	err := Run(testConfig(), zaptest.NewLogger(t), func(ctx context.Context, app App) error {
		assert.Nil(t, app.Mirror)
		// fn 运行前已完成一次存储检查
		assert.True(t, app.Health.IsHealthy())
		assert.False(t, app.Health.Status().LastCheck.IsZero())

		code, err := app.Users.GenerateUniqueUserCode(ctx)
		require.NoError(t, err)
		_, err = app.Users.CreateUser(ctx, code, models.ConsentGiven)
		require.NoError(t, err)

		promptID, err := app.Prompts.CreatePrompt(ctx, code, "You are a helpful tutor.", nil)
		require.NoError(t, err)
		assert.Equal(t, "P001", promptID)

		conversationID, err := app.Conversations.StartConversation(ctx, code, promptID)
		require.NoError(t, err)
		assert.Equal(t, "C001", conversationID)

		stats, err := app.Stats.SystemStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalUsers)

		logs, err := app.Store.Logs().ListByUser(ctx, code, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, logs)
		return nil
	})
	require.NoError(t, err)
}

func TestSharedStore(t *testing.T) {
	container, err := Build(testConfig(), nil)
	require.NoError(t, err)

	err = container.Invoke(func(store repository.Store, users repository.UserRepository, s *services.UserService) {
		assert.NotNil(t, s)
		assert.NotNil(t, users)
		assert.NotNil(t, store)
	})
	assert.NoError(t, err)
}

func TestLLMClientRequiresAPIKey(t *testing.T) {
	container, err := Build(testConfig(), nil)
	require.NoError(t, err)

	err = container.Invoke(func(client llm.Client) {})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.OpenAI.APIKey = "sk-test"
	container, err = Build(cfg, nil)
	require.NoError(t, err)
	err = container.Invoke(func(client llm.Client) {
		assert.IsType(t, &llm.BreakerClient{}, client)
	})
	assert.NoError(t, err)
}
