package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/bronsonhill/prompting-task-ISLM10002/internal/errors"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/metrics"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.uber.org/zap"
)

const (
	PromptPrefix       = "P"
	ConversationPrefix = "C"
	// DefaultPadWidth 显示编号的最小位数，超过时不截断
	DefaultPadWidth = 3
)

// FormatID 生成显示编号，例如 FormatID("P", 7, 3) == "P007"
func FormatID(prefix string, n int64, pad int) string {
	if pad < 1 {
		pad = 1
	}
	return fmt.Sprintf("%s%0*d", prefix, pad, n)
}

// ParseDisplayNumber 把 "P001"/"C042" 或纯数字转换为序号，无法解析时返回 0
func ParseDisplayNumber(id string) int64 {
	if id == "" {
		return 0
	}
	digits := id
	if strings.HasPrefix(id, PromptPrefix) || strings.HasPrefix(id, ConversationPrefix) {
		digits = id[1:]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IDAllocator 基于原子计数器的编号分配
type IDAllocator struct {
	counters repository.CounterRepository
	padWidth int
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewIDAllocator 创建编号分配器
func NewIDAllocator(counters repository.CounterRepository, padWidth int, m *metrics.Collector, logger *zap.Logger) *IDAllocator {
	if padWidth < 1 {
		padWidth = DefaultPadWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IDAllocator{counters: counters, padWidth: padWidth, metrics: m, logger: logger}
}

// NextID 单次原子自增，计数器不可用时直接失败
func (a *IDAllocator) NextID(ctx context.Context, key models.CounterKey) (int64, error) {
	if !key.Valid() {
		return 0, apperrors.NewInvalidInputError("counter_key", key.String())
	}
	n, err := a.counters.Increment(ctx, key)
	if err != nil {
		a.logger.Error("Failed to allocate sequence number", zap.String("counter", key.String()), zap.Error(err))
		return 0, apperrors.NewStoreUnavailableError("id allocation", err)
	}
	a.metrics.ObserveID(key.Kind.String())
	return n, nil
}

// NextConversationID 分配全局对话编号
func (a *IDAllocator) NextConversationID(ctx context.Context) (string, error) {
	n, err := a.NextID(ctx, models.ConversationCounter())
	if err != nil {
		return "", err
	}
	return FormatID(ConversationPrefix, n, a.padWidth), nil
}

// NextPromptID 分配用户内的提示词编号
func (a *IDAllocator) NextPromptID(ctx context.Context, userCode string) (string, error) {
	n, err := a.NextID(ctx, models.PromptCounter(userCode))
	if err != nil {
		return "", err
	}
	return FormatID(PromptPrefix, n, a.padWidth), nil
}

// Format 按当前位数格式化
func (a *IDAllocator) Format(prefix string, n int64) string {
	return FormatID(prefix, n, a.padWidth)
}
