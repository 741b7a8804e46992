package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/llm"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository/memory"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

// fakeClock 每次调用前进一秒
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEnv struct {
	store         *memory.Store
	clock         *fakeClock
	metrics       *metrics.Collector
	tokens        *TokenCounter
	ids           *IDAllocator
	audit         *AuditLogger
	admins        *AdminService
	users         *UserService
	prompts       *PromptService
	conversations *ConversationService
	repair        *RepairService
	stats         *StatsService
}

// newTestEnv 内存存储加上按字节估算的编码器，token 数可预测
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.New()
	clock := newFakeClock()
	m := metrics.NewCollector("test")
	tokens := NewTokenCounterWithEncoder(HeuristicEncoder{})
	ids := NewIDAllocator(store.Counters(), DefaultPadWidth, m, logger)
	audit := NewAuditLogger(store.Logs(), nil, m, logger)
	audit.now = clock.Now
	generator := NewCodeGenerator(CodeLength)

	env := &testEnv{
		store:   store,
		clock:   clock,
		metrics: m,
		tokens:  tokens,
		ids:     ids,
		audit:   audit,
	}
	env.admins = NewAdminService(store.AdminCodes(), generator, logger)
	env.admins.now = clock.Now
	env.users = NewUserService(store.Users(), env.admins, audit, generator, logger)
	env.users.now = clock.Now
	env.prompts = NewPromptService(store.Prompts(), ids, tokens, nil, audit, logger)
	env.prompts.now = clock.Now
	env.conversations = NewConversationService(store.Conversations(), store.Prompts(), ids, tokens, audit, m, logger)
	env.conversations.now = clock.Now
	env.repair = NewRepairService(store, ids, logger)
	env.stats = NewStatsService(store, logger)
	return env
}

func (e *testEnv) logs(t *testing.T, userCode string) []models.LogEntry {
	t.Helper()
	entries, err := e.store.Logs().ListByUser(context.Background(), userCode, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return entries
}

func actions(entries []models.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeLLM 按顺序回放片段
type fakeLLM struct {
	chunks    []llm.StreamChunk
	createErr error
	// block 为 true 时发送完片段后挂起，直到 ctx 取消
	block bool
	// received 最近一次请求的消息
	received []llm.Message
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	f.received = messages
	if f.createErr != nil {
		return nil, f.createErr
	}
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		for _, c := range f.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var out string
	for _, c := range f.chunks {
		out += c.Content
	}
	return out, f.createErr
}

// MockCounterRepository 模拟计数器
type MockCounterRepository struct {
	mock.Mock
}

func (m *MockCounterRepository) Increment(ctx context.Context, key models.CounterKey) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterRepository) Set(ctx context.Context, key models.CounterKey, value int64) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockCounterRepository) Get(ctx context.Context, key models.CounterKey) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

// MockLogRepository 模拟审计日志仓库
type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLogRepository) ListByUser(ctx context.Context, userCode string, limit int) ([]models.LogEntry, error) {
	args := m.Called(ctx, userCode, limit)
	return args.Get(0).([]models.LogEntry), args.Error(1)
}
