package services

import (
	"sync"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

// TokenizerName 全系统统一使用的编码；更换编码后必须重新执行 token 回填
const TokenizerName = "o200k_base"

// MessageOverheadTokens 每条消息的封装开销（角色与分隔符）
const MessageOverheadTokens = 4

// APIPrimingTokensPerMessage 估算接口调用时每条消息额外计入的 token
const APIPrimingTokensPerMessage = 3

// Encoder 文本分词计数
type Encoder interface {
	Count(text string) int
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// HeuristicEncoder 约4字节一个token的估算，编码表不可用时使用
type HeuristicEncoder struct{}

func (HeuristicEncoder) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
	encoderErr  error
)

func loadEncoder() (*tiktoken.Tiktoken, error) {
	encoderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		encoder, encoderErr = tiktoken.GetEncoding(TokenizerName)
	})
	return encoder, encoderErr
}

// TokenCounter Token计数服务，无状态
type TokenCounter struct {
	encoder Encoder
}

// NewTokenCounter 使用离线 o200k_base 编码表创建计数器
func NewTokenCounter(logger *zap.Logger) *TokenCounter {
	enc, err := loadEncoder()
	if err != nil {
		if logger != nil {
			logger.Warn("Tokenizer unavailable, using byte estimate",
				zap.String("encoding", TokenizerName), zap.Error(err))
		}
		return &TokenCounter{encoder: HeuristicEncoder{}}
	}
	return &TokenCounter{encoder: tiktokenEncoder{enc: enc}}
}

// NewTokenCounterWithEncoder 使用指定编码器
func NewTokenCounterWithEncoder(enc Encoder) *TokenCounter {
	return &TokenCounter{encoder: enc}
}

// CountTokens 计算文本的token数量
func (tc *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return tc.encoder.Count(text)
}

// CountMessageTokens 消息内容 token 加上封装开销；空内容计 0
func (tc *TokenCounter) CountMessageTokens(role models.Role, content string) int {
	if content == "" {
		return 0
	}
	return tc.CountTokens(content) + MessageOverheadTokens
}

// ConversationTokenCount 对话 token 明细
type ConversationTokenCount struct {
	TotalInputTokens  int
	TotalOutputTokens int
	PerMessage        []int
}

// Stats 转换为存储格式
func (c ConversationTokenCount) Stats() models.TokenStats {
	return models.TokenStats{
		TotalInputTokens:  c.TotalInputTokens,
		TotalOutputTokens: c.TotalOutputTokens,
	}
}

// CountConversationTokens system 与 user 计入输入，assistant 计入输出
func (tc *TokenCounter) CountConversationTokens(messages []models.Message) ConversationTokenCount {
	result := ConversationTokenCount{PerMessage: make([]int, len(messages))}
	for i, m := range messages {
		n := tc.CountMessageTokens(m.Role, m.Content)
		result.PerMessage[i] = n
		switch {
		case m.Role.IsInput():
			result.TotalInputTokens += n
		case m.Role == models.RoleAssistant:
			result.TotalOutputTokens += n
		}
	}
	return result
}

// ConversationStats 仅返回统计，可直接作为 repository.StatsFunc
func (tc *TokenCounter) ConversationStats(messages []models.Message) models.TokenStats {
	return tc.CountConversationTokens(messages).Stats()
}

// EstimateAPITokens 估算一次接口调用的消耗，每条消息额外计入固定开销
func (tc *TokenCounter) EstimateAPITokens(messages []models.Message) ConversationTokenCount {
	result := tc.CountConversationTokens(messages)
	result.TotalInputTokens += APIPrimingTokensPerMessage * len(messages)
	return result
}
